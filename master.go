package broker

import (
	"time"

	"github.com/tsne/broker/internal/logx"
)

// StoreTransport is the interface a master or clone needs from the
// peer layer: broadcast a command to every subscriber of a topic, or
// address one directly to a single peer. Peer satisfies this directly.
type StoreTransport interface {
	PublishCommand(topic Topic, cmd Command)
	ShipCommandTo(topic Topic, cmd Command, to PeerID)
}

// Master is the authoritative holder of a named key-value store. It
// applies commands transactionally and broadcasts the result to every
// clone on the store's topic. Not safe for concurrent use; give it
// actor semantics by driving it from a single goroutine.
type Master struct {
	topic     Topic
	store     *dataStore
	clones    map[PeerID]bool
	transport StoreTransport
	expiry    map[string]*genTimer
	now       func() time.Time
	post      func(func())
}

// NewMaster attaches a master store for topic, shipping broadcasts and
// snapshot replies through transport.
func NewMaster(topic Topic, transport StoreTransport) *Master {
	return &Master{
		topic:     topic,
		store:     newDataStore(),
		clones:    make(map[PeerID]bool),
		transport: transport,
		expiry:    make(map[string]*genTimer),
		now:       time.Now,
		post:      func(fn func()) { fn() },
	}
}

// SetDispatcher routes expiry-timer fires through post instead of
// running them on the timer's own goroutine. An endpoint calls this so
// that a master's state is only ever touched from its owning actor.
func (m *Master) SetDispatcher(post func(func())) { m.post = post }

// Topic returns the store's topic.
func (m *Master) Topic() Topic { return m.topic }

// Get reads the current value at key.
func (m *Master) Get(key Data) (Data, bool) {
	return m.store.get(key, m.now())
}

// Clones returns the ids of every peer that has requested a snapshot.
func (m *Master) Clones() PeerIDList {
	out := make(PeerIDList, 0, len(m.clones))
	for id := range m.clones {
		out = append(out, id)
	}
	return out
}

// Apply interprets cmd against the store per the command table (§4.4),
// broadcasting the realized mutation on success.
func (m *Master) Apply(cmd Command) error {
	now := m.now()
	switch cmd.Tag() {
	case CmdPut:
		expiry, hasExpiry := cmd.Expiry()
		m.applyPut(cmd.Key(), cmd.Value(), expiry, hasExpiry)
		m.transport.PublishCommand(m.topic, cmd)

	case CmdPutUnique:
		if _, exists := m.store.get(cmd.Key(), now); exists {
			// Failure: nothing changes, nothing broadcasts. A remote
			// clone infers the outcome from the absence of a broadcast
			// echo; a caller applying directly against this master (e.g.
			// a co-located clone and master, or a test) gets ErrKeyExists.
			return ErrKeyExists
		}
		expiry, hasExpiry := cmd.Expiry()
		m.applyPut(cmd.Key(), cmd.Value(), expiry, hasExpiry)
		// Broadcast the realized outcome (a put), never the tentative
		// put_unique, so every clone applies the same deterministic command.
		m.transport.PublishCommand(m.topic, PutCommand(cmd.Key(), cmd.Value(), expiryPtr(expiry, hasExpiry)))

	case CmdErase:
		m.clearExpiry(cmd.Key())
		m.store.erase(cmd.Key())
		m.transport.PublishCommand(m.topic, cmd)

	case CmdAdd:
		if _, err := m.store.applyAdd(cmd.Key(), cmd.Value(), now); err != nil {
			logger.Warningf(logx.ComponentMaster, "rejected add on %s/%v: %v", m.topic, cmd.Key(), err)
			return err
		}
		m.transport.PublishCommand(m.topic, cmd)

	case CmdSubtract:
		if _, err := m.store.applySubtract(cmd.Key(), cmd.Value(), now); err != nil {
			logger.Warningf(logx.ComponentMaster, "rejected subtract on %s/%v: %v", m.topic, cmd.Key(), err)
			return err
		}
		m.transport.PublishCommand(m.topic, cmd)

	case CmdSet:
		for _, timer := range m.expiry {
			timer.bump()
		}
		m.expiry = make(map[string]*genTimer)
		m.store.replace(cmd.Pairs())
		m.transport.PublishCommand(m.topic, cmd)

	case CmdClear:
		for _, timer := range m.expiry {
			timer.bump()
		}
		m.expiry = make(map[string]*genTimer)
		m.store.clear()
		m.transport.PublishCommand(m.topic, cmd)

	case CmdSnapshot:
		m.clones[cmd.Requester()] = true
		pairs := m.store.snapshot(now)
		m.transport.ShipCommandTo(m.topic, SnapshotReplyCommand(pairs...), cmd.Requester())
	}
	return nil
}

func (m *Master) applyPut(key, value Data, expiry time.Time, hasExpiry bool) {
	m.clearExpiry(key)
	if hasExpiry {
		m.store.put(key, value, &expiry)
		m.scheduleExpiry(key, expiry)
	} else {
		m.store.put(key, value, nil)
	}
}

func (m *Master) scheduleExpiry(key Data, at time.Time) {
	d := at.Sub(m.now())
	if d <= 0 {
		m.store.erase(key)
		return
	}
	timer := &genTimer{}
	m.expiry[key.Hash()] = timer
	timer.schedule(d, func() {
		m.post(func() {
			m.store.erase(key)
			m.transport.PublishCommand(m.topic, EraseCommand(key))
		})
	})
}

func (m *Master) clearExpiry(key Data) {
	if timer, ok := m.expiry[key.Hash()]; ok {
		timer.bump()
		delete(m.expiry, key.Hash())
	}
}

func expiryPtr(t time.Time, has bool) *time.Time {
	if !has {
		return nil
	}
	return &t
}
