package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/tsne/broker/internal/recorder"
)

// directLink wires two in-process endpoints together without a real
// transport, handing frames straight to the peer's HandleFrame.
type directLink struct {
	to   *Endpoint
	from PeerID
}

func (l *directLink) Send(frame []byte) error {
	l.to.HandleFrame(l.from, frame)
	return nil
}

func newTestEndpoint(t *testing.T, id PeerID) *Endpoint {
	t.Helper()
	e, err := NewEndpoint(id)
	if err != nil {
		t.Fatalf("unexpected error constructing endpoint: %v", err)
	}
	return e
}

func peerUp(a, b *Endpoint) {
	a.Peer(b.ID(), &directLink{to: b, from: a.ID()})
	b.Peer(a.ID(), &directLink{to: a, from: b.ID()})
}

func waitFor(t *testing.T, ch <-chan Data, timeout time.Duration) Data {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
		return Data{}
	}
}

func TestEndpointPublishDeliversAcrossPeers(t *testing.T) {
	a := newTestEndpoint(t, "a")
	b := newTestEndpoint(t, "b")
	peerUp(a, b)

	received := make(chan Data, 1)
	b.Subscribe("weather/stockholm", func(topic Topic, v Data) {
		received <- v
	})

	time.Sleep(10 * time.Millisecond) // let the subscription propagate to a
	a.Publish("weather/stockholm", StringData("sunny"))

	v := waitFor(t, received, time.Second)
	if !v.Equal(StringData("sunny")) {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestEndpointPublishDeliversLocallyWhenSelfSubscribed(t *testing.T) {
	a := newTestEndpoint(t, "a")
	received := make(chan Data, 1)
	a.Subscribe("weather", func(topic Topic, v Data) { received <- v })

	time.Sleep(5 * time.Millisecond)
	a.Publish("weather/stockholm", StringData("rain"))

	v := waitFor(t, received, time.Second)
	if !v.Equal(StringData("rain")) {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestEndpointPeerEmitsStatus(t *testing.T) {
	a := newTestEndpoint(t, "a")
	b := newTestEndpoint(t, "b")
	peerUp(a, b)

	select {
	case s := <-a.Statuses():
		if s.Code != StatusPeerAdded || s.Peer != "b" {
			t.Fatalf("unexpected status: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a peer_added status")
	}
}

func TestEndpointShipToUnreachableReportsPeerUnavailable(t *testing.T) {
	a := newTestEndpoint(t, "a")
	b := newTestEndpoint(t, "b")
	peerUp(a, b)

	<-a.Statuses() // drain the peer_added status peerUp raised

	a.peerActor.Call(func() { a.peer.ShipTo(DataContent("t", IntegerData(1)), "ghost") })

	select {
	case s := <-a.Statuses():
		if s.Code != StatusPeerUnavailable || s.Peer != "ghost" {
			t.Fatalf("unexpected status: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a peer_unavailable status")
	}
}

func TestEndpointUnpeerUnknownReportsStatus(t *testing.T) {
	a := newTestEndpoint(t, "a")
	a.Unpeer("ghost")

	select {
	case s := <-a.Statuses():
		if s.Code != StatusUnpeerUnknown {
			t.Fatalf("unexpected status: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a cannot_remove_peer status")
	}
}

func TestEndpointRecordsForwardedPublications(t *testing.T) {
	store, err := recorder.Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	a, err := NewEndpoint("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewEndpoint("b", WithRecorder(store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	peerUp(a, b)

	received := make(chan Data, 1)
	b.Subscribe("weather/stockholm", func(topic Topic, v Data) { received <- v })

	time.Sleep(10 * time.Millisecond)
	a.Publish("weather/stockholm", StringData("sunny"))
	waitFor(t, received, time.Second)

	deadline := time.Now().Add(time.Second)
	for store.Written() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.Written() == 0 {
		t.Fatal("expected the forwarded publication to be recorded")
	}
}

// S4-flavored end-to-end: a master on A, a clone on B, the clone's put
// forwarded through the overlay and echoed back as a broadcast.
func TestEndpointMasterCloneEndToEnd(t *testing.T) {
	a := newTestEndpoint(t, "a")
	b := newTestEndpoint(t, "b")
	peerUp(a, b)

	a.AttachMaster("store/kv")
	clone := b.AttachClone("store/kv", time.Hour, time.Hour, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for clone.State() != CloneLive && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if clone.State() != CloneLive {
		t.Fatalf("clone never reached live, state=%v", clone.State())
	}

	clone.Put(StringData("k"), IntegerData(42), nil)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, err := clone.Get(StringData("k")); err == nil && v.Equal(IntegerData(42)) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("clone write never echoed back from the master")
}

// saturatingLink rejects its first n Sends with ErrLinkSaturated, then
// forwards every frame afterward, preserving arrival order. It models
// a transport link whose outbound queue is briefly full.
type saturatingLink struct {
	mu     sync.Mutex
	refuse int
	to     *Endpoint
	from   PeerID
	frames [][]byte
}

func (l *saturatingLink) Send(frame []byte) error {
	l.mu.Lock()
	if l.refuse > 0 {
		l.refuse--
		l.mu.Unlock()
		return ErrLinkSaturated
	}
	l.frames = append(l.frames, frame)
	l.mu.Unlock()
	l.to.HandleFrame(l.from, frame)
	return nil
}

func TestEndpointSendHoldsAndRetriesSaturatedLink(t *testing.T) {
	a := newTestEndpoint(t, "a")
	b := newTestEndpoint(t, "b")

	link := &saturatingLink{refuse: 3, to: b, from: "a"}
	a.Peer("b", link)
	b.Peer("a", &directLink{to: a, from: "b"})

	received := make(chan Data, 1)
	b.Subscribe("weather/stockholm", func(topic Topic, v Data) { received <- v })

	time.Sleep(10 * time.Millisecond) // let the subscription reach a
	a.Publish("weather/stockholm", StringData("sunny"))

	v := waitFor(t, received, 2*time.Second)
	if !v.Equal(StringData("sunny")) {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestEndpointSendDropsOldestOnFullHoldingBuffer(t *testing.T) {
	a, err := NewEndpoint("a", WithHoldingBufferSize(2, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := newTestEndpoint(t, "b")

	link := &saturatingLink{refuse: 1 << 30, to: b, from: "a"}
	a.Peer("b", link)

	a.send("b", []byte{1})
	a.send("b", []byte{2})
	a.send("b", []byte{3})

	a.holdMtx.Lock()
	q := a.holding["b"]
	a.holdMtx.Unlock()
	if len(q) != 2 || q[0][0] != 2 || q[1][0] != 3 {
		t.Fatalf("expected the oldest frame dropped, got %v", q)
	}
}
