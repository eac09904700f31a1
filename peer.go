package broker

import (
	"sort"

	"github.com/tsne/broker/internal/logx"
)

// PeerDelegate is implemented by a transport. The peer core calls back
// into it to actually move bytes; this one-way ownership (transport owns
// the peer, not the reverse) avoids the cyclic peer/transport back-
// pointer noted as a design smell in the source this was grounded on.
type PeerDelegate interface {
	// SendFilterUpdate delivers a subscription update to a direct peer.
	SendFilterUpdate(to PeerID, update SubscriptionUpdate)

	// SendMessage delivers a node message to a direct peer.
	SendMessage(to PeerID, msg NodeMessage)

	// DeliverLocally hands a message that named this peer as a receiver
	// to local consumers (workers for data, stores for commands).
	DeliverLocally(content Content)

	// ReceiverUnavailable reports that a ship operation found no route
	// to id, so that one named receiver was dropped from its message.
	ReceiverUnavailable(id PeerID)
}

const maxTTL = 65535

// Peer implements the per-endpoint overlay subsystem: routing table,
// subscription propagation and shortest-path forwarding. It is not
// safe for concurrent use; callers give it actor semantics by driving
// it exclusively from one goroutine (see actor.go).
type Peer struct {
	self PeerID

	tbl RoutingTable[PeerID]

	filter         Filter
	peerFilters    map[PeerID]Filter
	peerTimestamps map[PeerID]uint64
	timestamp      uint64
	ttl            uint16

	delegate PeerDelegate
}

// NewPeer constructs a peer core identified by self, reporting events
// and shipping traffic through delegate.
func NewPeer(self PeerID, delegate PeerDelegate) *Peer {
	return &Peer{
		self:           self,
		tbl:            NewRoutingTable[PeerID](self),
		peerFilters:    make(map[PeerID]Filter),
		peerTimestamps: make(map[PeerID]uint64),
		delegate:       delegate,
	}
}

// ID returns this peer's own id.
func (p *Peer) ID() PeerID { return p.self }

// Filter returns this peer's own subscription filter.
func (p *Peer) Filter() Filter { return p.filter }

// TTL returns the current outbound TTL.
func (p *Peer) TTL() uint16 { return p.ttl }

// Timestamp returns the local logical clock.
func (p *Peer) Timestamp() uint64 { return p.timestamp }

// PeerFilter returns the last-known filter of id, or the empty filter
// if id is unknown.
func (p *Peer) PeerFilter(id PeerID) Filter {
	return p.peerFilters[id]
}

// DirectFilter returns the union of filters for peers this endpoint is
// directly connected to, matching the legacy "get subscriptions"
// behavior that only reports direct-peer filters.
func (p *Peer) DirectFilter() Filter {
	var result Filter
	for id, filter := range p.peerFilters {
		if p.tbl.Find(id) != nil {
			filterExtend(&result, filter, nil)
		}
	}
	return result
}

// HasRemoteSubscriber reports whether any known remote filter matches
// topic.
func (p *Peer) HasRemoteSubscriber(topic Topic) bool {
	for _, filter := range p.peerFilters {
		if filter.Matches(topic) {
			return true
		}
	}
	return false
}

// DistanceTo reports the hop distance to id, or false if unreachable.
func (p *Peer) DistanceTo(id PeerID) (int, bool) {
	return p.tbl.Distance(id)
}

// PeerHandles returns the ids of every direct peer.
func (p *Peer) PeerHandles() PeerIDList {
	var out PeerIDList
	p.tbl.Each(func(id PeerID, _ *RoutingTableEntry[PeerID]) {
		out = append(out, id)
	})
	return out
}

// Subscribe extends the local filter with what, excluding internal
// topics, and propagates the change to every direct peer if it altered
// the filter.
func (p *Peer) Subscribe(what Filter) {
	notInternal := func(t Topic) bool { return !t.IsInternal() }
	if !filterExtend(&p.filter, what, notInternal) {
		return
	}
	p.timestamp++
	path := PeerIDList{p.self}
	update := SubscriptionUpdate{Path: path, Filter: p.filter, Timestamp: p.timestamp}
	p.tbl.Each(func(id PeerID, _ *RoutingTableEntry[PeerID]) {
		p.delegate.SendFilterUpdate(id, update)
	})
}

// Publish looks up every receiver whose filter matches content's topic
// and ships content to them as a node message.
func (p *Peer) Publish(content Content) {
	var receivers PeerIDList
	for id, filter := range p.peerFilters {
		if filter.Matches(content.Topic()) {
			receivers = append(receivers, id)
		}
	}
	if len(receivers) == 0 {
		return
	}
	p.Ship(NodeMessage{Content: content, TTL: p.ttl, Receivers: receivers})
}

// PublishData is a type-specialized wrapper over Publish.
func (p *Peer) PublishData(topic Topic, v Data) {
	p.Publish(DataContent(topic, v))
}

// PublishCommand is a type-specialized wrapper over Publish.
func (p *Peer) PublishCommand(topic Topic, c Command) {
	p.Publish(CommandContent(topic, c))
}

// HandleFilterUpdate processes a subscription update arriving from a
// direct peer.
func (p *Peer) HandleFilterUpdate(path PeerIDList, filter Filter, timestamp uint64) {
	if len(path) == 0 || filter.Empty() {
		return
	}
	src := path[len(path)-1]
	if p.tbl.Find(src) == nil {
		logger.Debugf(logx.ComponentPeer, "dropping filter update from unknown source %s", src)
		return
	}
	if path.Contains(p.self) {
		logger.Debugf(logx.ComponentPeer, "dropping looped filter update, path=%v", path)
		return
	}

	distance := len(path)
	if distance > maxTTL {
		logger.Warningf(logx.ComponentPeer, "dropping filter update: path length %d exceeds %d", distance, maxTTL)
		return
	}
	if distance > int(p.ttl) {
		p.ttl = uint16(distance)
	}
	if distance > 1 {
		p.tbl.UpdateDistance(src, path[0], distance)
	}

	forwardPath := append(path.Clone(), p.self)
	p.tbl.Each(func(id PeerID, _ *RoutingTableEntry[PeerID]) {
		if !forwardPath.Contains(id) {
			p.delegate.SendFilterUpdate(id, SubscriptionUpdate{
				Path:      forwardPath,
				Filter:    filter,
				Timestamp: timestamp,
			})
		}
	})

	subscriber := path[0]
	if timestamp > p.peerTimestamps[subscriber] {
		p.peerFilters[subscriber] = filter
		p.peerTimestamps[subscriber] = timestamp
	}
}

// HandlePublication processes a node message arriving from a direct
// peer: decrements TTL, delivers locally if named, and re-ships any
// remaining residue.
func (p *Peer) HandlePublication(msg NodeMessage) {
	if msg.TTL > 0 {
		msg.TTL--
	}

	receivers := msg.Receivers
	if i := indexOf(receivers, p.self); i >= 0 {
		receivers = removeAt(receivers, i)
		p.delegate.DeliverLocally(msg.Content)
	}
	if len(receivers) == 0 {
		return
	}
	if msg.Content.Topic().IsCloneTraffic() {
		// Clone-to-master traffic travels exactly one hop; never relayed
		// past its immediate recipient even if named receivers remain.
		return
	}
	if msg.TTL == 0 {
		logger.Warningf(logx.ComponentPeer, "dropping publication: ttl exhausted before reaching %v", receivers)
		return
	}
	msg.Receivers = receivers
	p.Ship(msg)
}

func indexOf(l PeerIDList, id PeerID) int {
	for i, x := range l {
		if x == id {
			return i
		}
	}
	return -1
}

func removeAt(l PeerIDList, i int) PeerIDList {
	out := make(PeerIDList, 0, len(l)-1)
	out = append(out, l[:i]...)
	out = append(out, l[i+1:]...)
	return out
}

// Ship buckets msg's receivers by first-hop direct peer and sends one
// copy per non-empty bucket. Receivers with no known route are dropped.
func (p *Peer) Ship(msg NodeMessage) {
	buckets := make(map[PeerID]PeerIDList)
	p.tbl.Each(func(id PeerID, _ *RoutingTableEntry[PeerID]) {
		buckets[id] = nil
	})

	for _, r := range msg.Receivers {
		hop, ok := p.firstHop(r)
		if !ok {
			logger.Warningf(logx.ComponentRouting, "no route to receiver %s, dropping", r)
			p.delegate.ReceiverUnavailable(r)
			continue
		}
		buckets[hop] = append(buckets[hop], r)
	}

	hops := make([]PeerID, 0, len(buckets))
	for hop := range buckets {
		hops = append(hops, hop)
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i] < hops[j] })

	for _, hop := range hops {
		receivers := buckets[hop]
		if len(receivers) == 0 {
			continue
		}
		copyMsg := msg
		copyMsg.Receivers = receivers
		p.delegate.SendMessage(hop, copyMsg)
	}
}

// ShipCommandTo wraps cmd into a single-receiver node message addressed
// to to, used for direct replies such as a snapshot transfer.
func (p *Peer) ShipCommandTo(topic Topic, cmd Command, to PeerID) {
	p.ShipTo(CommandContent(topic, cmd), to)
}

// ShipTo wraps content into a single-receiver node message and sends
// it along the shortest known path to receiver.
func (p *Peer) ShipTo(content Content, receiver PeerID) {
	msg := NodeMessage{Content: content, TTL: p.ttl, Receivers: PeerIDList{receiver}}
	hop, ok := p.firstHop(receiver)
	if !ok {
		logger.Warningf(logx.ComponentRouting, "no route to receiver %s, dropping", receiver)
		p.delegate.ReceiverUnavailable(receiver)
		return
	}
	p.delegate.SendMessage(hop, msg)
}

// firstHop resolves the direct peer to forward toward receiver through,
// tie-breaking lexicographically on equal distance.
func (p *Peer) firstHop(receiver PeerID) (PeerID, bool) {
	if p.tbl.Find(receiver) != nil {
		return receiver, true
	}

	var best PeerID
	bestDistance := -1
	found := false
	p.tbl.Each(func(id PeerID, entry *RoutingTableEntry[PeerID]) {
		d, ok := entry.Distances[receiver]
		if !ok {
			return
		}
		if !found || d < bestDistance || (d == bestDistance && id < best) {
			best, bestDistance, found = id, d, true
		}
	})
	return best, found
}

// PeerConnected is invoked by the transport after it has already
// inserted id into the routing table.
func (p *Peer) PeerConnected(id PeerID) {}

// PeerRemoved erases id from the routing table, and also drops its
// last-known filter if it has become entirely unreachable.
func (p *Peer) PeerRemoved(id PeerID) {
	p.tbl.Erase(id)
	if _, ok := p.tbl.Distance(id); !ok {
		delete(p.peerFilters, id)
		delete(p.peerTimestamps, id)
	}
}

// PeerDisconnected performs the same cleanup as PeerRemoved but is
// invoked for an asynchronous link loss rather than a user-requested
// unpeer.
func (p *Peer) PeerDisconnected(id PeerID) {
	p.PeerRemoved(id)
}

// InsertPeer adds a direct peer to the routing table. Transports call
// this before PeerConnected, per the ownership contract above.
func (p *Peer) InsertPeer(id PeerID) {
	p.tbl.Insert(id, id)
}
