package broker

import "sync"

// actor runs a single goroutine that drains a mailbox of closures in
// send order. It gives the peer, master and clone components their
// "independent sequential actor" semantics: state owned by an actor is
// only ever touched from within that actor's own goroutine, so none of
// peer.go, master.go or clone.go need internal locking.
type actor struct {
	mailbox chan func()
	done    chan struct{}
	once    sync.Once
}

// newActor starts an actor with the given mailbox capacity.
func newActor(capacity int) *actor {
	a := &actor{
		mailbox: make(chan func(), capacity),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	defer close(a.done)
	for fn := range a.mailbox {
		fn()
	}
}

// Post enqueues fn to run on the actor's goroutine. Post is safe to call
// from any goroutine, including from within the actor itself (queued
// behind whatever comes next). Posting to a closed actor is a no-op.
func (a *actor) Post(fn func()) {
	defer func() { recover() }() // swallow send-on-closed-channel after Close
	select {
	case a.mailbox <- fn:
	case <-a.done:
	}
}

// Call runs fn on the actor's goroutine and blocks until it has run, or
// until the actor is closed without ever running it.
func (a *actor) Call(fn func()) {
	ran := make(chan struct{})
	a.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-a.done:
	}
}

// Close stops accepting new work. Already queued closures still run.
func (a *actor) Close() {
	a.once.Do(func() { close(a.mailbox) })
}
