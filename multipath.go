package broker

import (
	"encoding/binary"
	"sort"
)

// Multipath is a tree-shaped source route: each node names a peer id,
// and its children describe the peers to forward to from there. It
// encodes a branching forwarding plan so that one wire packet can cover
// a whole receiver set sharing a common prefix, instead of shipping one
// copy per receiver.
//
// Invariants: a node's children are sorted by id and strictly
// increasing (no duplicate child ids); no child equals its parent;
// equality is recursive structural equality.
type Multipath struct {
	id       PeerID
	children []Multipath
}

// NewMultipath returns a single-node multipath rooted at id.
func NewMultipath(id PeerID) Multipath {
	return Multipath{id: id}
}

// NewMultipathFromPath builds a linear chain from path. Panics if path
// is empty: callers that might pass an empty path should check first.
func NewMultipathFromPath(path PeerIDList) Multipath {
	if len(path) == 0 {
		panic("broker: multipath from empty path")
	}
	root := NewMultipath(path[0])
	pos := &root
	for _, id := range path[1:] {
		child, _ := pos.EmplaceNode(id)
		pos = child
	}
	return root
}

// ID returns the peer id at this node.
func (m *Multipath) ID() PeerID {
	return m.id
}

// Children returns the node's children, sorted by id.
func (m *Multipath) Children() []Multipath {
	return m.children
}

// EmplaceNode returns the child for id, creating it in sorted position
// if absent. The second return value reports whether a new child was
// created.
func (m *Multipath) EmplaceNode(id PeerID) (*Multipath, bool) {
	i := sort.Search(len(m.children), func(i int) bool {
		return m.children[i].id >= id
	})
	if i < len(m.children) && m.children[i].id == id {
		return &m.children[i], false
	}
	m.children = append(m.children, Multipath{})
	copy(m.children[i+1:], m.children[i:])
	m.children[i] = Multipath{id: id}
	return &m.children[i], true
}

// Splice folds the linear path into the tree, creating children on
// demand. It reports false only when the path is non-empty and its
// head does not match this node's id (the path cannot be spliced into
// this subtree); an empty path always succeeds as a no-op.
func (m *Multipath) Splice(path PeerIDList) bool {
	if len(path) == 0 {
		return true
	}
	if path[0] != m.id {
		return false
	}
	pos := m
	for _, id := range path[1:] {
		child, _ := pos.EmplaceNode(id)
		pos = child
	}
	return true
}

// Equal reports whether m and other describe the same tree.
func (m *Multipath) Equal(other *Multipath) bool {
	if m.id != other.id || len(m.children) != len(other.children) {
		return false
	}
	for i := range m.children {
		if !m.children[i].Equal(&other.children[i]) {
			return false
		}
	}
	return true
}

// Marshal appends the wire encoding of m to buf: the peer id, then a
// varint child count, then each child recursively.
func (m *Multipath) Marshal(buf []byte) []byte {
	buf = marshalPeerID(m.id, buf)
	buf = appendVarint(buf, uint64(len(m.children)))
	for _, c := range m.children {
		buf = c.Marshal(buf)
	}
	return buf
}

// UnmarshalMultipath decodes a Multipath from p, returning the node and
// the number of bytes consumed.
func UnmarshalMultipath(p []byte) (Multipath, int, error) {
	id, n, err := unmarshalPeerID(p)
	if err != nil {
		return Multipath{}, 0, err
	}
	p = p[n:]
	total := n

	count, m, err := readVarint(p)
	if err != nil {
		return Multipath{}, 0, errMalformedMessage
	}
	p = p[m:]
	total += m

	node := Multipath{id: id}
	node.children = make([]Multipath, 0, count)
	for i := uint64(0); i < count; i++ {
		child, m, err := UnmarshalMultipath(p)
		if err != nil {
			return Multipath{}, 0, err
		}
		node.children = append(node.children, child)
		p = p[m:]
		total += m
	}
	return node, total, nil
}

func marshalPeerID(id PeerID, buf []byte) []byte {
	buf = appendVarint(buf, uint64(len(id)))
	return append(buf, id...)
}

func unmarshalPeerID(p []byte) (PeerID, int, error) {
	n, m, err := readVarint(p)
	if err != nil {
		return "", 0, errMalformedPeerList
	}
	if uint64(len(p)-m) < n {
		return "", 0, errMalformedPeerList
	}
	return PeerID(p[m : m+int(n)]), m + int(n), nil
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(p []byte) (v uint64, n int, err error) {
	v, n = binary.Uvarint(p)
	if n <= 0 {
		return 0, 0, errMalformedFrame
	}
	return v, n, nil
}
