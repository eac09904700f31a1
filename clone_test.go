package broker

import (
	"testing"
	"time"
)

func TestCloneBootingBuffersWritesAndRequestsSnapshot(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)

	if c.State() != CloneSyncing {
		t.Fatalf("expected syncing state immediately after construction, got %v", c.State())
	}
	if len(tr.broadcasts) != 1 || tr.broadcasts[0].Tag() != CmdSnapshot {
		t.Fatalf("expected an immediate snapshot request, got %v", tr.broadcasts)
	}

	c.Put(StringData("k"), IntegerData(1), nil)
	if len(tr.broadcasts) != 1 {
		t.Fatalf("expected the write to be buffered, not forwarded, got %v", tr.broadcasts)
	}

	if _, err := c.Get(StringData("k")); err != ErrNotAvailable {
		t.Fatalf("expected ErrNotAvailable while syncing, got %v", err)
	}
}

// S4: clone resync with buffered pre-snapshot write.
func TestCloneResyncFlushesBufferedWrites(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	c.Put(StringData("k"), IntegerData(1), nil)

	c.Apply(SnapshotReplyCommand()) // snapshot arrives: empty master store

	if c.State() != CloneLive {
		t.Fatalf("expected live after snapshot install, got %v", c.State())
	}
	found := false
	for _, cmd := range tr.broadcasts {
		if cmd.Tag() == CmdPut && cmd.Key().Equal(StringData("k")) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected buffered put forwarded after resync, got %v", tr.broadcasts)
	}

	// the buffered put is only forwarded, not applied locally yet — it
	// becomes visible once the master echoes it back as a broadcast.
	if _, err := c.Get(StringData("k")); err != ErrKeyNotFound {
		t.Fatalf("expected key not yet visible before the broadcast echo, got %v", err)
	}

	c.Apply(PutCommand(StringData("k"), IntegerData(1), nil))
	v, err := c.Get(StringData("k"))
	if err != nil || !v.Equal(IntegerData(1)) {
		t.Fatalf("expected key visible after broadcast echo, got %v, %v", v, err)
	}
}

func TestCloneInstallSnapshotInstallsMasterContents(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)

	c.Apply(SnapshotReplyCommand(TableEntry{Key: StringData("a"), Value: IntegerData(1)}))

	v, err := c.Get(StringData("a"))
	if err != nil || !v.Equal(IntegerData(1)) {
		t.Fatalf("unexpected state after snapshot install: %v, %v", v, err)
	}
}

func TestCloneLiveAppliesBroadcastCommands(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	c.Apply(SnapshotReplyCommand())

	c.Apply(PutCommand(StringData("k"), IntegerData(5), nil))
	if v, err := c.Get(StringData("k")); err != nil || !v.Equal(IntegerData(5)) {
		t.Fatalf("unexpected value: %v, %v", v, err)
	}

	c.Apply(EraseCommand(StringData("k")))
	if _, err := c.Get(StringData("k")); err != ErrKeyNotFound {
		t.Fatalf("expected key erased, got %v", err)
	}
}

func TestCloneLiveWritesForwardButDoNotApplyLocally(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	c.Apply(SnapshotReplyCommand())
	tr.broadcasts = nil

	c.Put(StringData("k"), IntegerData(1), nil)
	if len(tr.broadcasts) != 1 || tr.broadcasts[0].Tag() != CmdPut {
		t.Fatalf("expected the write forwarded to the master, got %v", tr.broadcasts)
	}
	if _, err := c.Get(StringData("k")); err != ErrKeyNotFound {
		t.Fatalf("expected write invisible until the broadcast echo, got %v", err)
	}
}

// S5: stale clone after link cut, resync on reconnect.
func TestCloneGoesStaleAfterSilenceAndResyncs(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, 5*time.Millisecond, time.Hour)
	c.Apply(SnapshotReplyCommand(TableEntry{Key: StringData("a"), Value: IntegerData(1)}))

	time.Sleep(20 * time.Millisecond)

	if c.State() != CloneStale {
		t.Fatalf("expected stale after silence, got %v", c.State())
	}
	if _, err := c.Get(StringData("a")); err != ErrNotAvailable {
		t.Fatalf("expected ErrNotAvailable while stale, got %v", err)
	}

	// writes still forward while stale
	tr.broadcasts = nil
	c.Clear()
	if len(tr.broadcasts) != 1 {
		t.Fatalf("expected writes to keep forwarding while stale, got %v", tr.broadcasts)
	}

	// reconnect: snapshot arrives, clone returns to live
	c.Apply(SnapshotReplyCommand(TableEntry{Key: StringData("a"), Value: IntegerData(2)}))
	if c.State() != CloneLive {
		t.Fatalf("expected live after resync, got %v", c.State())
	}
	v, err := c.Get(StringData("a"))
	if err != nil || !v.Equal(IntegerData(2)) {
		t.Fatalf("unexpected post-resync value: %v, %v", v, err)
	}
}

func TestCloneMutationBufferTimeoutDropsBufferAndRetries(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, 5*time.Millisecond)
	c.Put(StringData("k"), IntegerData(1), nil)

	time.Sleep(20 * time.Millisecond)

	if len(c.mutationBuffer) != 0 {
		t.Fatalf("expected buffer dropped after the bound elapsed, got %v", c.mutationBuffer)
	}
	snapshotRequests := 0
	for _, cmd := range tr.broadcasts {
		if cmd.Tag() == CmdSnapshot {
			snapshotRequests++
		}
	}
	if snapshotRequests < 2 {
		t.Fatalf("expected a re-issued snapshot request, got %d", snapshotRequests)
	}
}

// A clone still SYNCING must not mistake an unrelated CmdSet broadcast
// (triggered by some other caller's bulk replace on the same topic,
// per master.go's CmdSet dispatch) for its own awaited snapshot reply.
func TestCloneIgnoresUnrelatedSetBroadcastWhileSyncing(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	c.Put(StringData("k"), IntegerData(1), nil)

	c.Apply(SetCommand(TableEntry{Key: StringData("someone-else's"), Value: IntegerData(99)}))
	if c.State() != CloneSyncing {
		t.Fatalf("expected an unrelated set broadcast to leave the clone syncing, got %v", c.State())
	}
	if _, err := c.Get(StringData("k")); err != ErrNotAvailable {
		t.Fatalf("expected still not available while syncing, got %v", err)
	}

	c.Apply(SnapshotReplyCommand())
	if c.State() != CloneLive {
		t.Fatalf("expected live once the real snapshot reply arrives, got %v", c.State())
	}
	found := false
	for _, cmd := range tr.broadcasts {
		if cmd.Tag() == CmdPut && cmd.Key().Equal(StringData("k")) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the buffered put forwarded once the real snapshot installed, got %v", tr.broadcasts)
	}
}

func TestCloneKeysUnavailableWhileNotLive(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	if _, err := c.Keys(); err != ErrNotAvailable {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestCloneKeysReflectsStoreWhileLive(t *testing.T) {
	tr := &recordingTransport{}
	c := NewClone("clone-1", "store/kv", tr, time.Hour, time.Hour, time.Hour)
	c.Apply(SnapshotReplyCommand(
		TableEntry{Key: StringData("a"), Value: IntegerData(1)},
		TableEntry{Key: StringData("b"), Value: IntegerData(2)},
	))

	keys, err := c.Keys()
	if err != nil || len(keys) != 2 {
		t.Fatalf("unexpected keys: %v, %v", keys, err)
	}
}
