package broker

import "time"

// CommandTag identifies the operation a Command carries.
type CommandTag uint8

const (
	CmdPut CommandTag = iota
	CmdPutUnique
	CmdErase
	CmdAdd
	CmdSubtract
	CmdSet
	CmdClear
	CmdSnapshot
	CmdSnapshotReply
)

func (t CommandTag) String() string {
	switch t {
	case CmdPut:
		return "put"
	case CmdPutUnique:
		return "put_unique"
	case CmdErase:
		return "erase"
	case CmdAdd:
		return "add"
	case CmdSubtract:
		return "subtract"
	case CmdSet:
		return "set"
	case CmdClear:
		return "clear"
	case CmdSnapshot:
		return "snapshot"
	case CmdSnapshotReply:
		return "snapshot_reply"
	default:
		return "unknown"
	}
}

// Command is a tagged union over the mutations a master store accepts
// and the commands it broadcasts to its clones.
type Command struct {
	tag       CommandTag
	key       Data
	value     Data
	expiry    time.Time
	hasExpiry bool
	pairs     []TableEntry
	requester PeerID
}

// PutCommand replaces the value at key, optionally with an expiry.
func PutCommand(key, value Data, expiry *time.Time) Command {
	c := Command{tag: CmdPut, key: key, value: value}
	if expiry != nil {
		c.expiry, c.hasExpiry = *expiry, true
	}
	return c
}

// PutUniqueCommand sets key to value only if key is currently absent.
func PutUniqueCommand(key, value Data, expiry *time.Time) Command {
	c := PutCommand(key, value, expiry)
	c.tag = CmdPutUnique
	return c
}

// EraseCommand removes key.
func EraseCommand(key Data) Command {
	return Command{tag: CmdErase, key: key}
}

// AddCommand adds delta to the value at key (numeric add, set union,
// vector append or table merge, depending on the stored value's kind).
func AddCommand(key, delta Data) Command {
	return Command{tag: CmdAdd, key: key, value: delta}
}

// SubtractCommand subtracts delta from the value at key.
func SubtractCommand(key, delta Data) Command {
	return Command{tag: CmdSubtract, key: key, value: delta}
}

// SetCommand bulk-replaces the entire store with pairs.
func SetCommand(pairs ...TableEntry) Command {
	cp := make([]TableEntry, len(pairs))
	copy(cp, pairs)
	return Command{tag: CmdSet, pairs: cp}
}

// ClearCommand empties the store.
func ClearCommand() Command {
	return Command{tag: CmdClear}
}

// SnapshotCommand requests a full state transfer to requester.
func SnapshotCommand(requester PeerID) Command {
	return Command{tag: CmdSnapshot, requester: requester}
}

// SnapshotReplyCommand carries a master's full state back to the single
// clone that requested it. It is shipped point-to-point (ShipCommandTo),
// never broadcast, and is tagged distinctly from SetCommand so a clone
// cannot mistake an unrelated bulk-replace broadcast for its own
// awaited snapshot.
func SnapshotReplyCommand(pairs ...TableEntry) Command {
	cp := make([]TableEntry, len(pairs))
	copy(cp, pairs)
	return Command{tag: CmdSnapshotReply, pairs: cp}
}

// Tag reports the command's operation.
func (c Command) Tag() CommandTag { return c.tag }

// Key returns the command's key (put/put_unique/erase/add/subtract).
func (c Command) Key() Data { return c.key }

// Value returns the command's operand value (put/put_unique/add/subtract).
func (c Command) Value() Data { return c.value }

// Expiry returns the command's expiry, if any.
func (c Command) Expiry() (time.Time, bool) { return c.expiry, c.hasExpiry }

// Pairs returns the replacement pairs of a set command.
func (c Command) Pairs() []TableEntry { return c.pairs }

// Requester returns the requesting peer of a snapshot command.
func (c Command) Requester() PeerID { return c.requester }
