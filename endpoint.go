package broker

import (
	"strings"
	"sync"
	"time"
)

// Handler receives a locally delivered publication.
type Handler func(topic Topic, v Data)

// Link is the per-peer outbound carrier a transport provides. Send
// enqueues a marshaled frame for delivery. Implementations are
// expected to hold a bounded outbound channel per peer, per the
// backpressure note in spec.md §5, and return ErrLinkSaturated while
// that channel is full instead of blocking or failing outright; the
// endpoint holds such frames and retries them in order. Any other
// non-nil error means the link is dead.
type Link interface {
	Send(frame []byte) error
}

// Endpoint is the façade a transport and an application drive: it owns
// the peer overlay core plus any attached master/clone stores, each
// given actor semantics by running its own goroutine.
type Endpoint struct {
	self      PeerID
	opts      options
	peer      *Peer
	peerActor *actor

	linksMtx sync.Mutex
	links    map[PeerID]Link

	holdMtx  sync.Mutex
	holding  map[PeerID][][]byte
	retrying map[PeerID]bool

	handlersMtx sync.RWMutex
	handlers    map[Topic][]Handler

	storesMtx    sync.Mutex
	masters      map[Topic]*Master
	masterActors map[Topic]*actor
	clones       map[Topic]*Clone
	cloneActors  map[Topic]*actor

	statuses chan Status
	errors   chan EndpointError
}

// NewEndpoint constructs an endpoint identified by self. Callers drive
// it by wiring a transport's Listen/Connect/frame-receive loop to
// Peer, Unpeer, Disconnected and HandleFrame.
func NewEndpoint(self PeerID, o ...Option) (*Endpoint, error) {
	opts := defaultOptions()
	if err := opts.apply(o...); err != nil {
		return nil, err
	}

	e := &Endpoint{
		self:         self,
		opts:         opts,
		links:        make(map[PeerID]Link),
		holding:      make(map[PeerID][][]byte),
		retrying:     make(map[PeerID]bool),
		handlers:     make(map[Topic][]Handler),
		masters:      make(map[Topic]*Master),
		masterActors: make(map[Topic]*actor),
		clones:       make(map[Topic]*Clone),
		cloneActors:  make(map[Topic]*actor),
		statuses:     make(chan Status, opts.statusBufferSize),
		errors:       make(chan EndpointError, opts.errorBufferSize),
	}
	e.peer = NewPeer(self, e)
	e.peerActor = newActor(opts.peerMailboxSize)
	return e, nil
}

// ID returns the endpoint's own peer id.
func (e *Endpoint) ID() PeerID { return e.self }

// Statuses returns the channel status events are published on.
func (e *Endpoint) Statuses() <-chan Status { return e.statuses }

// Errors returns the channel link errors are reported on.
func (e *Endpoint) Errors() <-chan EndpointError { return e.errors }

// PeerFilter returns the last-known filter of a direct or indirect peer.
func (e *Endpoint) PeerFilter(id PeerID) Filter {
	var f Filter
	e.peerActor.Call(func() { f = e.peer.PeerFilter(id) })
	return f
}

// HasRemoteSubscriber reports whether any known peer subscribes to topic.
func (e *Endpoint) HasRemoteSubscriber(topic Topic) bool {
	var has bool
	e.peerActor.Call(func() { has = e.peer.HasRemoteSubscriber(topic) })
	return has
}

// Peer registers id as a direct peer reachable through link.
func (e *Endpoint) Peer(id PeerID, link Link) {
	e.linksMtx.Lock()
	e.links[id] = link
	e.linksMtx.Unlock()

	e.peerActor.Post(func() {
		e.peer.InsertPeer(id)
		e.peer.PeerConnected(id)
	})
	e.emitStatus(StatusPeerAdded, id, "")
}

// Unpeer removes id as a direct peer.
func (e *Endpoint) Unpeer(id PeerID) {
	e.linksMtx.Lock()
	_, known := e.links[id]
	delete(e.links, id)
	e.linksMtx.Unlock()

	if !known {
		e.emitStatus(StatusUnpeerUnknown, id, "cannot remove unknown peer")
		return
	}
	e.clearHolding(id)
	e.peerActor.Post(func() { e.peer.PeerRemoved(id) })
	e.emitStatus(StatusPeerRemoved, id, "")
}

// Disconnected reports an asynchronous link loss for id, distinct from
// a user-requested Unpeer.
func (e *Endpoint) Disconnected(id PeerID, err error) {
	e.linksMtx.Lock()
	delete(e.links, id)
	e.linksMtx.Unlock()
	e.clearHolding(id)

	e.peerActor.Post(func() { e.peer.PeerDisconnected(id) })
	e.emitStatus(StatusPeerLost, id, "")
	if err != nil {
		e.reportError(&LinkError{Peer: id, Op: "read", Err: err})
	}
}

// HandleFrame processes a frame received from a direct peer.
func (e *Endpoint) HandleFrame(from PeerID, frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch frameType(frame[0]) {
	case frameTypeSubscribe:
		update, err := UnmarshalSubscriptionUpdate(frame)
		if err != nil {
			e.reportError(&LinkError{Peer: from, Op: "unmarshal", Err: err})
			return
		}
		e.peerActor.Post(func() {
			e.peer.HandleFilterUpdate(update.Path, update.Filter, update.Timestamp)
		})
	case frameTypePublish:
		msg, err := UnmarshalNodeMessage(frame)
		if err != nil {
			e.reportError(&LinkError{Peer: from, Op: "unmarshal", Err: err})
			return
		}
		if err := e.opts.recorder.Store(frame); err != nil {
			e.reportError(err)
		}
		e.peerActor.Post(func() { e.peer.HandlePublication(msg) })
	default:
		e.reportError(&LinkError{Peer: from, Op: "unmarshal", Err: errMalformedFrame})
	}
}

// Publish ships v on topic to every remote subscriber and, if this
// endpoint's own filter matches, delivers it to local handlers too.
func (e *Endpoint) Publish(topic Topic, v Data) {
	e.peerActor.Post(func() {
		content := DataContent(topic, v)
		if e.peer.Filter().Matches(topic) {
			e.deliverLocally(content)
		}
		e.peer.Publish(content)
	})
}

// Subscribe registers handler for every publication whose topic falls
// under topic, extending this endpoint's outward-propagated filter.
func (e *Endpoint) Subscribe(topic Topic, handler Handler) {
	e.handlersMtx.Lock()
	e.handlers[topic] = append(e.handlers[topic], handler)
	e.handlersMtx.Unlock()

	e.peerActor.Post(func() { e.peer.Subscribe(NewFilter(topic)) })
}

// AttachMaster creates and attaches an authoritative store for topic,
// subscribing to the reserved clone-traffic topic so direct clone
// mutations reach it.
func (e *Endpoint) AttachMaster(topic Topic) *Master {
	m := NewMaster(topic, e.storeTransport())
	a := newActor(e.opts.storeMailboxSize)
	m.SetDispatcher(a.Post)

	e.storesMtx.Lock()
	e.masters[topic] = m
	e.masterActors[topic] = a
	e.storesMtx.Unlock()

	e.peerActor.Post(func() { e.peer.Subscribe(NewFilter(cloneTopic(topic))) })
	return m
}

// AttachClone creates and attaches a clone store mirroring the master
// at topic, subscribing to the master's broadcast topic. A zero
// duration falls back to the endpoint's configured default (see
// WithStoreIntervals).
func (e *Endpoint) AttachClone(topic Topic, resyncInterval, staleInterval, mutationBufferInterval time.Duration) *Clone {
	resyncInterval = orDefaultInterval(resyncInterval, e.opts.resyncInterval)
	staleInterval = orDefaultInterval(staleInterval, e.opts.staleInterval)
	mutationBufferInterval = orDefaultInterval(mutationBufferInterval, e.opts.mutationBufInterval)

	a := newActor(e.opts.storeMailboxSize)
	c := NewClone(e.self, topic, e.storeTransport(), resyncInterval, staleInterval, mutationBufferInterval)
	c.SetDispatcher(a.Post)

	e.storesMtx.Lock()
	e.clones[topic] = c
	e.cloneActors[topic] = a
	e.storesMtx.Unlock()

	e.peerActor.Post(func() { e.peer.Subscribe(NewFilter(topic)) })
	return c
}

// -- PeerDelegate -------------------------------------------------------

// SendFilterUpdate implements PeerDelegate.
func (e *Endpoint) SendFilterUpdate(to PeerID, update SubscriptionUpdate) {
	e.send(to, MarshalSubscriptionUpdate(update))
}

// SendMessage implements PeerDelegate.
func (e *Endpoint) SendMessage(to PeerID, msg NodeMessage) {
	e.send(to, MarshalNodeMessage(msg))
}

// DeliverLocally implements PeerDelegate.
func (e *Endpoint) DeliverLocally(content Content) {
	e.deliverLocally(content)
}

// ReceiverUnavailable implements PeerDelegate.
func (e *Endpoint) ReceiverUnavailable(id PeerID) {
	e.emitStatus(StatusPeerUnavailable, id, "no route to receiver")
}

func (e *Endpoint) deliverLocally(content Content) {
	if content.IsCommand() {
		e.routeCommand(content)
		return
	}
	e.handlersMtx.RLock()
	defer e.handlersMtx.RUnlock()
	for topic, hs := range e.handlers {
		if matchesPrefix(content.Topic(), topic) {
			for _, h := range hs {
				h(content.Topic(), content.Data())
			}
		}
	}
}

func (e *Endpoint) routeCommand(content Content) {
	topic := content.Topic()
	if strings.HasSuffix(string(topic), cloneSuffix) {
		masterTopic := Topic(strings.TrimSuffix(string(topic), cloneSuffix))
		e.storesMtx.Lock()
		master, a := e.masters[masterTopic], e.masterActors[masterTopic]
		e.storesMtx.Unlock()
		if master == nil {
			return
		}
		a.Post(func() { master.Apply(content.Command()) })
		return
	}

	e.storesMtx.Lock()
	clone, a := e.clones[topic], e.cloneActors[topic]
	e.storesMtx.Unlock()
	if clone == nil {
		return
	}
	a.Post(func() { clone.Apply(content.Command()) })
}

// send ships frame to peer to. If that peer's link is already blocked
// (an earlier frame is sitting in the holding buffer waiting for room),
// frame is appended behind it rather than racing ahead out of order. A
// newly saturated link starts the retry loop that drains the buffer
// through this same path once room appears, per spec.md §5's
// backpressure paragraph.
func (e *Endpoint) send(to PeerID, frame []byte) {
	link := e.linkFor(to)
	if link == nil {
		return
	}

	e.holdMtx.Lock()
	blocked := len(e.holding[to]) > 0
	e.holdMtx.Unlock()
	if blocked {
		e.enqueueHolding(to, frame)
		return
	}

	switch err := link.Send(frame); err {
	case nil:
	case ErrLinkSaturated:
		e.enqueueHolding(to, frame)
	default:
		e.Disconnected(to, err)
	}
}

func (e *Endpoint) linkFor(to PeerID) Link {
	e.linksMtx.Lock()
	defer e.linksMtx.Unlock()
	return e.links[to]
}

// enqueueHolding appends frame to to's holding buffer, dropping the
// oldest buffered frame if the buffer is already at capacity, and
// arms a retry if none is already scheduled for this peer.
func (e *Endpoint) enqueueHolding(to PeerID, frame []byte) {
	e.holdMtx.Lock()
	q := e.holding[to]
	if len(q) >= e.opts.holdingBufferSize {
		q = q[1:]
	}
	e.holding[to] = append(q, frame)
	alreadyRetrying := e.retrying[to]
	e.retrying[to] = true
	e.holdMtx.Unlock()

	if !alreadyRetrying {
		e.scheduleFlush(to)
	}
}

func (e *Endpoint) scheduleFlush(to PeerID) {
	time.AfterFunc(e.opts.holdingRetryInterval, func() { e.flushHolding(to) })
}

// flushHolding drains to's holding buffer in order through the same
// link.Send path a fresh frame would take — the "normal dispatch path,
// not a shortcut" spec.md §5 calls for. It stops and reschedules itself
// on the first still-saturated send, or gives up and disconnects the
// peer on any other error.
func (e *Endpoint) flushHolding(to PeerID) {
	link := e.linkFor(to)
	if link == nil {
		e.clearHolding(to)
		return
	}

	for {
		e.holdMtx.Lock()
		q := e.holding[to]
		if len(q) == 0 {
			delete(e.holding, to)
			delete(e.retrying, to)
			e.holdMtx.Unlock()
			return
		}
		frame := q[0]
		e.holdMtx.Unlock()

		switch err := link.Send(frame); err {
		case nil:
			e.holdMtx.Lock()
			if q := e.holding[to]; len(q) > 0 {
				e.holding[to] = q[1:]
			}
			e.holdMtx.Unlock()
		case ErrLinkSaturated:
			e.scheduleFlush(to)
			return
		default:
			e.clearHolding(to)
			e.Disconnected(to, err)
			return
		}
	}
}

func (e *Endpoint) clearHolding(to PeerID) {
	e.holdMtx.Lock()
	delete(e.holding, to)
	delete(e.retrying, to)
	e.holdMtx.Unlock()
}

func (e *Endpoint) storeTransport() StoreTransport {
	return &endpointTransport{e}
}

func (e *Endpoint) emitStatus(code StatusCode, peer PeerID, message string) {
	select {
	case e.statuses <- Status{Code: code, Peer: peer, Message: message}:
	default: // slow consumer: drop rather than block the actor
	}
}

func (e *Endpoint) reportError(err error) {
	var peer PeerID
	if linkErr, ok := err.(*LinkError); ok {
		peer = linkErr.Peer
	}
	select {
	case e.errors <- EndpointError{Err: err, Peer: peer}:
	default: // slow consumer: the synchronous handler below still runs
	}
	e.opts.errorHandler(err)
}

// endpointTransport bridges a Master or Clone's StoreTransport calls,
// made from their own owning actor, onto the peer's owning actor.
type endpointTransport struct {
	e *Endpoint
}

func (t *endpointTransport) PublishCommand(topic Topic, cmd Command) {
	t.e.peerActor.Post(func() { t.e.peer.PublishCommand(topic, cmd) })
}

func (t *endpointTransport) ShipCommandTo(topic Topic, cmd Command, to PeerID) {
	t.e.peerActor.Post(func() { t.e.peer.ShipCommandTo(topic, cmd, to) })
}
