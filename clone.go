package broker

import (
	"time"

	"github.com/tsne/broker/internal/logx"
)

// CloneState is a clone's position in the BOOTING → SYNCING → LIVE ⇄
// STALE state machine (spec.md §4.5).
type CloneState uint8

const (
	CloneBooting CloneState = iota
	CloneSyncing
	CloneLive
	CloneStale
)

func (s CloneState) String() string {
	switch s {
	case CloneBooting:
		return "booting"
	case CloneSyncing:
		return "syncing"
	case CloneLive:
		return "live"
	case CloneStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Clone mirrors a master's store and stays eventually consistent across
// reconnects and master churn. Local writes are forwarded to the master
// and applied only once they come back on the broadcast (forward-then-
// apply-on-broadcast), so every live clone of a master converges to the
// same sequence (invariant C1). Not safe for concurrent use; give it
// actor semantics by driving it from a single goroutine.
type Clone struct {
	topic Topic
	self  PeerID
	store *dataStore
	state CloneState

	mutationBuffer []Command
	transport      StoreTransport
	now            func() time.Time

	resyncTimer         *genTimer
	mutationBufferTimer *genTimer
	staleTimer          *genTimer
	resyncInterval      time.Duration
	staleInterval       time.Duration
	mutationBufInterval time.Duration

	post func(func())
}

// SetDispatcher routes resync/stale/mutation-buffer timer fires through
// post instead of running them on the timer's own goroutine. An
// endpoint calls this so that a clone's state is only ever touched from
// its owning actor.
func (c *Clone) SetDispatcher(post func(func())) { c.post = post }

// NewClone attaches a clone store for topic and immediately begins
// resyncing against the master.
func NewClone(self PeerID, topic Topic, transport StoreTransport, resyncInterval, staleInterval, mutationBufferInterval time.Duration) *Clone {
	c := &Clone{
		topic:               topic,
		self:                self,
		store:               newDataStore(),
		transport:           transport,
		now:                 time.Now,
		resyncTimer:         &genTimer{},
		mutationBufferTimer: &genTimer{},
		staleTimer:          &genTimer{},
		resyncInterval:      resyncInterval,
		staleInterval:       staleInterval,
		mutationBufInterval: mutationBufferInterval,
		post:                func(fn func()) { fn() },
	}
	c.beginSync()
	return c
}

// Topic returns the mirrored master's topic.
func (c *Clone) Topic() Topic { return c.topic }

// State reports the clone's current position in the state machine.
func (c *Clone) State() CloneState { return c.state }

// Stale reports whether the clone is currently STALE.
func (c *Clone) Stale() bool { return c.state == CloneStale }

// Get reads key locally. Per invariant C2, reads during BOOTING,
// SYNCING or STALE return ErrNotAvailable rather than stale contents.
func (c *Clone) Get(key Data) (Data, error) {
	if c.state != CloneLive {
		return Data{}, ErrNotAvailable
	}
	v, ok := c.store.get(key, c.now())
	if !ok {
		return Data{}, ErrKeyNotFound
	}
	return v, nil
}

// Keys returns the clone's current key set without exposing the store.
func (c *Clone) Keys() ([]Data, error) {
	if c.state != CloneLive {
		return nil, ErrNotAvailable
	}
	return c.store.keys(c.now()), nil
}

// Put forwards a put to the master (or buffers it pre-sync).
func (c *Clone) Put(key, value Data, expiry *time.Time) {
	c.submit(PutCommand(key, value, expiry))
}

// PutUnique forwards a put_unique to the master. The outcome is defined
// by the master alone (invariant C3); this clone learns it only from
// the broadcast that follows.
func (c *Clone) PutUnique(key, value Data, expiry *time.Time) {
	c.submit(PutUniqueCommand(key, value, expiry))
}

// Erase forwards an erase to the master.
func (c *Clone) Erase(key Data) {
	c.submit(EraseCommand(key))
}

// Add forwards an add to the master.
func (c *Clone) Add(key, delta Data) {
	c.submit(AddCommand(key, delta))
}

// Subtract forwards a subtract to the master.
func (c *Clone) Subtract(key, delta Data) {
	c.submit(SubtractCommand(key, delta))
}

// Clear forwards a clear to the master.
func (c *Clone) Clear() {
	c.submit(ClearCommand())
}

// submit either forwards cmd to the master immediately (LIVE and STALE
// both keep forwarding, per spec.md §4.5) or buffers it until the first
// snapshot arrives (BOOTING/SYNCING).
func (c *Clone) submit(cmd Command) {
	if c.state == CloneLive || c.state == CloneStale {
		c.transport.PublishCommand(cloneTopic(c.topic), cmd)
		return
	}
	c.mutationBuffer = append(c.mutationBuffer, cmd)
}

// Apply processes a command arriving on the store's topic: either the
// awaited snapshot reply (shipped point-to-point, tagged
// CmdSnapshotReply so it can't be confused with an unrelated broadcast
// set) or a broadcast to apply idempotently.
func (c *Clone) Apply(cmd Command) {
	if cmd.Tag() == CmdSnapshotReply {
		c.installSnapshot(cmd.Pairs())
		return
	}
	c.applyBroadcast(cmd)
}

func (c *Clone) installSnapshot(pairs []TableEntry) {
	c.store.replace(pairs)
	c.state = CloneLive
	c.resyncTimer.bump()
	c.mutationBufferTimer.bump()
	c.armStaleTimer()

	buffered := c.mutationBuffer
	c.mutationBuffer = nil
	for _, cmd := range buffered {
		c.transport.PublishCommand(cloneTopic(c.topic), cmd)
	}
}

func (c *Clone) applyBroadcast(cmd Command) {
	if c.state == CloneLive {
		c.armStaleTimer()
	}
	now := c.now()
	switch cmd.Tag() {
	case CmdPut, CmdPutUnique:
		expiry, hasExpiry := cmd.Expiry()
		c.store.put(cmd.Key(), cmd.Value(), expiryPtr(expiry, hasExpiry))
	case CmdErase:
		c.store.erase(cmd.Key())
	case CmdAdd:
		c.store.applyAdd(cmd.Key(), cmd.Value(), now)
	case CmdSubtract:
		c.store.applySubtract(cmd.Key(), cmd.Value(), now)
	case CmdSet:
		c.store.replace(cmd.Pairs())
	case CmdClear:
		c.store.clear()
	case CmdSnapshot:
		// snapshot requests are never broadcast to clones.
	case CmdSnapshotReply:
		// handled in Apply before reaching applyBroadcast.
	}
}

func (c *Clone) beginSync() {
	c.state = CloneSyncing
	c.requestSnapshot()
	c.mutationBufferTimer.schedule(c.mutationBufInterval, func() { c.post(c.onMutationBufferTimeout) })
}

func (c *Clone) requestSnapshot() {
	c.transport.PublishCommand(cloneTopic(c.topic), SnapshotCommand(c.self))
	c.resyncTimer.schedule(c.resyncInterval, func() { c.post(c.onResyncTimeout) })
}

func (c *Clone) armStaleTimer() {
	c.staleTimer.schedule(c.staleInterval, func() { c.post(c.onStaleTimeout) })
}

func (c *Clone) onResyncTimeout() {
	if c.state == CloneLive {
		return
	}
	c.requestSnapshot()
}

func (c *Clone) onMutationBufferTimeout() {
	if c.state == CloneLive {
		return
	}
	if n := len(c.mutationBuffer); n > 0 {
		logger.Infof(logx.ComponentClone, "resync for %s timed out, dropping %d buffered mutations and retrying", c.topic, n)
	}
	c.mutationBuffer = nil
	c.requestSnapshot()
	c.mutationBufferTimer.schedule(c.mutationBufInterval, func() { c.post(c.onMutationBufferTimeout) })
}

func (c *Clone) onStaleTimeout() {
	if c.state != CloneLive {
		return
	}
	logger.Warningf(logx.ComponentClone, "clone for %s went stale, re-requesting snapshot", c.topic)
	c.state = CloneStale
	c.requestSnapshot()
}
