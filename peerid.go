package broker

import "github.com/google/uuid"

// PeerID is an opaque, comparable token identifying an endpoint within
// the overlay. The empty string is the "invalid" sentinel and must
// never be used as a real peer's id.
type PeerID string

// Valid reports whether id is not the invalid sentinel.
func (id PeerID) Valid() bool {
	return id != ""
}

// NewRandomPeerID returns a 128-bit random peer id, encoded as its
// canonical UUID string. Use this flavor of PeerID when endpoints do not
// want to pick human-readable names for themselves.
func NewRandomPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// PeerIDFromString wraps an arbitrary, caller-chosen name as a PeerID.
func PeerIDFromString(s string) PeerID {
	return PeerID(s)
}

// PeerIDList is an ordered list of peer ids, used for source-routed
// subscription paths and multipath descriptions.
type PeerIDList []PeerID

// Contains reports whether id occurs anywhere in the list.
func (l PeerIDList) Contains(id PeerID) bool {
	for _, x := range l {
		if x == id {
			return true
		}
	}
	return false
}

// Clone returns a copy of the list.
func (l PeerIDList) Clone() PeerIDList {
	out := make(PeerIDList, len(l))
	copy(out, l)
	return out
}
