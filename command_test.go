package broker

import (
	"testing"
	"time"
)

func TestPutCommandWithoutExpiry(t *testing.T) {
	c := PutCommand(StringData("k"), IntegerData(1), nil)
	if _, has := c.Expiry(); has {
		t.Fatal("expected no expiry")
	}
	switch {
	case c.Tag() != CmdPut:
		t.Fatalf("unexpected tag: %v", c.Tag())
	case !c.Key().Equal(StringData("k")):
		t.Fatalf("unexpected key: %v", c.Key())
	case !c.Value().Equal(IntegerData(1)):
		t.Fatalf("unexpected value: %v", c.Value())
	}
}

func TestPutCommandWithExpiry(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	c := PutCommand(StringData("k"), IntegerData(1), &exp)
	got, has := c.Expiry()
	switch {
	case !has:
		t.Fatal("expected an expiry")
	case !got.Equal(exp):
		t.Fatalf("unexpected expiry: %v, want %v", got, exp)
	}
}

func TestPutUniqueCommandTag(t *testing.T) {
	c := PutUniqueCommand(StringData("k"), IntegerData(1), nil)
	if c.Tag() != CmdPutUnique {
		t.Fatalf("unexpected tag: %v", c.Tag())
	}
}

func TestSetCommandPairs(t *testing.T) {
	c := SetCommand(
		TableEntry{Key: StringData("a"), Value: IntegerData(1)},
		TableEntry{Key: StringData("b"), Value: IntegerData(2)},
	)
	if len(c.Pairs()) != 2 {
		t.Fatalf("unexpected pair count: %d", len(c.Pairs()))
	}
}

func TestSnapshotCommandRequester(t *testing.T) {
	c := SnapshotCommand("p1")
	if c.Requester() != "p1" {
		t.Fatalf("unexpected requester: %v", c.Requester())
	}
}

func TestCommandTagString(t *testing.T) {
	cases := map[CommandTag]string{
		CmdPut:           "put",
		CmdPutUnique:     "put_unique",
		CmdErase:         "erase",
		CmdAdd:           "add",
		CmdSubtract:      "subtract",
		CmdSet:           "set",
		CmdClear:         "clear",
		CmdSnapshot:      "snapshot",
		CmdSnapshotReply: "snapshot_reply",
	}
	for tag, want := range cases {
		if got := tag.String(); got != want {
			t.Errorf("tag %d: String() = %q, want %q", tag, got, want)
		}
	}
}
