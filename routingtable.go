package broker

import "math"

// RoutingTableEntry describes one direct peer: its communication handle
// and the best known hop counts it has reported to other peers.
type RoutingTableEntry[Handle any] struct {
	Handle    Handle
	Distances map[PeerID]int
}

// RoutingTable maps a direct peer id to its entry. It never contains a
// self-entry (invariant I2); a direct peer's distance to itself, stored
// as distances[id] == 1, is implicit rather than stored.
type RoutingTable[Handle any] struct {
	self    PeerID
	entries map[PeerID]*RoutingTableEntry[Handle]
}

// NewRoutingTable returns an empty routing table for the endpoint
// identified by self.
func NewRoutingTable[Handle any](self PeerID) RoutingTable[Handle] {
	return RoutingTable[Handle]{
		self:    self,
		entries: make(map[PeerID]*RoutingTableEntry[Handle]),
	}
}

// Insert registers id as a direct peer reachable through hdl. Inserting
// self is a no-op, preserving I2.
func (t *RoutingTable[Handle]) Insert(id PeerID, hdl Handle) {
	if id == t.self {
		return
	}
	t.entries[id] = &RoutingTableEntry[Handle]{
		Handle:    hdl,
		Distances: make(map[PeerID]int),
	}
}

// Erase removes id as a direct peer.
func (t *RoutingTable[Handle]) Erase(id PeerID) {
	delete(t.entries, id)
}

// Find returns the entry for a direct peer id, or nil if id is not a
// direct peer.
func (t *RoutingTable[Handle]) Find(id PeerID) *RoutingTableEntry[Handle] {
	return t.entries[id]
}

// Len returns the number of direct peers.
func (t *RoutingTable[Handle]) Len() int {
	return len(t.entries)
}

// Each calls fn for every direct peer id and its entry. Iteration order
// is unspecified.
func (t *RoutingTable[Handle]) Each(fn func(id PeerID, entry *RoutingTableEntry[Handle])) {
	for id, e := range t.entries {
		fn(id, e)
	}
}

// Distance returns the best known hop count to id: 1 if id is a direct
// peer, otherwise the minimum over every direct peer's reported
// distance to id, or an infinite (ok == false) distance if id is
// unreachable.
func (t *RoutingTable[Handle]) Distance(id PeerID) (dist int, ok bool) {
	if _, direct := t.entries[id]; direct {
		return 1, true
	}
	best := math.MaxInt
	for _, e := range t.entries {
		if d, has := e.Distances[id]; has && d < best {
			best = d
		}
	}
	if best == math.MaxInt {
		return 0, false
	}
	return best, true
}

// UpdateDistance records that the direct peer src claims distance hops
// to dst, keeping the minimum of any previously recorded distance.
// Updating the distance to a non-existent direct peer is a no-op.
func (t *RoutingTable[Handle]) UpdateDistance(src, dst PeerID, distance int) {
	e, ok := t.entries[src]
	if !ok {
		return
	}
	if cur, has := e.Distances[dst]; !has || distance < cur {
		e.Distances[dst] = distance
	}
}
