package broker

import (
	"encoding/binary"
	"math"
	"net/netip"
	"time"
)

// Content is the payload of a node message: either a (topic, data) pair
// from a publisher, or a (topic, command) pair from a store.
type Content struct {
	topic     Topic
	isCommand bool
	data      Data
	cmd       Command
}

// DataContent wraps a published data value for topic.
func DataContent(topic Topic, v Data) Content {
	return Content{topic: topic, data: v}
}

// CommandContent wraps a store command for topic.
func CommandContent(topic Topic, c Command) Content {
	return Content{topic: topic, isCommand: true, cmd: c}
}

// Topic returns the content's topic.
func (c Content) Topic() Topic { return c.topic }

// IsCommand reports whether the content carries a command rather than
// a plain data value.
func (c Content) IsCommand() bool { return c.isCommand }

// Data returns the carried data value. Meaningless if IsCommand is true.
func (c Content) Data() Data { return c.data }

// Command returns the carried command. Meaningless if IsCommand is false.
func (c Content) Command() Command { return c.cmd }

// NodeMessage is the on-wire envelope exchanged between peers: content
// plus a hop-to-live counter and the set of peer ids that should
// receive (or further forward) it.
type NodeMessage struct {
	Content   Content
	TTL       uint16
	Receivers PeerIDList
}

// SubscriptionUpdate is the on-wire filter propagation message.
type SubscriptionUpdate struct {
	Path      PeerIDList
	Filter    Filter
	Timestamp uint64
}

// -- frame header -------------------------------------------------------

// frame format: | frameType (1 byte) | payload |
// Kept minimal on purpose: transports are expected to provide their own
// outer length-prefixing (see transport/tcp and transport/nats); this
// header only disambiguates the payload that follows.
type frameType byte

const (
	frameTypeSubscribe frameType = iota
	frameTypePublish
	frameTypeSnapshotRequest
	frameTypeSnapshotReply
)

// MarshalSubscriptionUpdate encodes a subscription update frame.
func MarshalSubscriptionUpdate(u SubscriptionUpdate) []byte {
	buf := []byte{byte(frameTypeSubscribe)}
	buf = marshalPeerIDList(u.Path, buf)
	buf = marshalFilter(u.Filter, buf)
	buf = appendUint64(buf, u.Timestamp)
	return buf
}

// UnmarshalSubscriptionUpdate decodes a subscription update frame.
func UnmarshalSubscriptionUpdate(p []byte) (SubscriptionUpdate, error) {
	if len(p) == 0 || frameType(p[0]) != frameTypeSubscribe {
		return SubscriptionUpdate{}, errMalformedFrame
	}
	p = p[1:]

	path, n, err := unmarshalPeerIDList(p)
	if err != nil {
		return SubscriptionUpdate{}, err
	}
	p = p[n:]

	filter, n, err := unmarshalFilter(p)
	if err != nil {
		return SubscriptionUpdate{}, err
	}
	p = p[n:]

	if len(p) < 8 {
		return SubscriptionUpdate{}, errMalformedFrame
	}
	ts := binary.LittleEndian.Uint64(p)
	return SubscriptionUpdate{Path: path, Filter: filter, Timestamp: ts}, nil
}

// MarshalNodeMessage encodes a node message frame.
func MarshalNodeMessage(msg NodeMessage) []byte {
	buf := []byte{byte(frameTypePublish)}
	buf = marshalTopic(msg.Content.topic, buf)
	if msg.Content.isCommand {
		buf = append(buf, 1)
		buf = marshalCommand(msg.Content.cmd, buf)
	} else {
		buf = append(buf, 0)
		buf = marshalData(msg.Content.data, buf)
	}
	buf = appendUint16(buf, msg.TTL)
	buf = marshalPeerIDList(msg.Receivers, buf)
	return buf
}

// UnmarshalNodeMessage decodes a node message frame.
func UnmarshalNodeMessage(p []byte) (NodeMessage, error) {
	if len(p) == 0 || frameType(p[0]) != frameTypePublish {
		return NodeMessage{}, errMalformedFrame
	}
	p = p[1:]

	topic, n, err := unmarshalTopic(p)
	if err != nil {
		return NodeMessage{}, err
	}
	p = p[n:]

	if len(p) < 1 {
		return NodeMessage{}, errMalformedMessage
	}
	isCommand := p[0] == 1
	p = p[1:]

	var content Content
	if isCommand {
		cmd, n, err := unmarshalCommand(p)
		if err != nil {
			return NodeMessage{}, err
		}
		content = CommandContent(topic, cmd)
		p = p[n:]
	} else {
		data, n, err := unmarshalData(p)
		if err != nil {
			return NodeMessage{}, err
		}
		content = DataContent(topic, data)
		p = p[n:]
	}

	if len(p) < 2 {
		return NodeMessage{}, errMalformedMessage
	}
	ttl := binary.LittleEndian.Uint16(p)
	p = p[2:]

	receivers, _, err := unmarshalPeerIDList(p)
	if err != nil {
		return NodeMessage{}, err
	}
	return NodeMessage{Content: content, TTL: ttl, Receivers: receivers}, nil
}

// -- primitive helpers ---------------------------------------------------

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func marshalTopic(t Topic, buf []byte) []byte {
	buf = appendVarint(buf, uint64(len(t)))
	return append(buf, t...)
}

func unmarshalTopic(p []byte) (Topic, int, error) {
	n, m, err := readVarint(p)
	if err != nil {
		return "", 0, errMalformedTopic
	}
	if uint64(len(p)-m) < n {
		return "", 0, errMalformedTopic
	}
	return Topic(p[m : m+int(n)]), m + int(n), nil
}

func marshalPeerIDList(l PeerIDList, buf []byte) []byte {
	buf = appendVarint(buf, uint64(len(l)))
	for _, id := range l {
		buf = marshalPeerID(id, buf)
	}
	return buf
}

func unmarshalPeerIDList(p []byte) (PeerIDList, int, error) {
	count, n, err := readVarint(p)
	if err != nil {
		return nil, 0, errMalformedPeerList
	}
	p = p[n:]
	total := n

	list := make(PeerIDList, 0, count)
	for i := uint64(0); i < count; i++ {
		id, m, err := unmarshalPeerID(p)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, id)
		p = p[m:]
		total += m
	}
	return list, total, nil
}

func marshalFilter(f Filter, buf []byte) []byte {
	buf = appendVarint(buf, uint64(len(f)))
	for _, topic := range f {
		buf = marshalTopic(topic, buf)
	}
	return buf
}

func unmarshalFilter(p []byte) (Filter, int, error) {
	count, n, err := readVarint(p)
	if err != nil {
		return nil, 0, errMalformedFilter
	}
	p = p[n:]
	total := n

	f := make(Filter, 0, count)
	for i := uint64(0); i < count; i++ {
		topic, m, err := unmarshalTopic(p)
		if err != nil {
			return nil, 0, errMalformedFilter
		}
		f = append(f, topic)
		p = p[m:]
		total += m
	}
	return f, total, nil
}

// -- data encoding ---------------------------------------------------------

func marshalData(d Data, buf []byte) []byte {
	buf = append(buf, byte(d.kind))
	switch d.kind {
	case KindNil:
	case KindBool:
		if d.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindCount:
		buf = appendUint64(buf, d.u64)
	case KindInteger:
		buf = appendUint64(buf, uint64(d.i64))
	case KindReal:
		buf = appendUint64(buf, math.Float64bits(d.f64))
	case KindString, KindEnum:
		buf = appendVarint(buf, uint64(len(d.str)))
		buf = append(buf, d.str...)
	case KindAddress:
		buf = marshalAddr(d.addr, buf)
	case KindSubnet:
		buf = marshalAddr(d.subnet.Addr(), buf)
		buf = append(buf, byte(d.subnet.Bits()))
	case KindPort:
		buf = appendUint16(buf, d.port)
	case KindTimestamp:
		buf = appendUint64(buf, uint64(d.ts.UnixNano()))
	case KindTimespan:
		buf = appendUint64(buf, uint64(int64(d.span)))
	case KindVector, KindSet:
		buf = appendVarint(buf, uint64(len(d.seq)))
		for _, e := range d.seq {
			buf = marshalData(e, buf)
		}
	case KindTable:
		buf = appendVarint(buf, uint64(len(d.table)))
		for _, e := range d.table {
			buf = marshalData(e.Key, buf)
			buf = marshalData(e.Value, buf)
		}
	}
	return buf
}

func unmarshalData(p []byte) (Data, int, error) {
	if len(p) < 1 {
		return Data{}, 0, errMalformedData
	}
	kind := Kind(p[0])
	p = p[1:]
	total := 1

	switch kind {
	case KindNil:
		return NilData(), total, nil
	case KindBool:
		if len(p) < 1 {
			return Data{}, 0, errMalformedData
		}
		return BoolData(p[0] != 0), total + 1, nil
	case KindCount:
		if len(p) < 8 {
			return Data{}, 0, errMalformedData
		}
		return CountData(binary.LittleEndian.Uint64(p)), total + 8, nil
	case KindInteger:
		if len(p) < 8 {
			return Data{}, 0, errMalformedData
		}
		return IntegerData(int64(binary.LittleEndian.Uint64(p))), total + 8, nil
	case KindReal:
		if len(p) < 8 {
			return Data{}, 0, errMalformedData
		}
		return RealData(math.Float64frombits(binary.LittleEndian.Uint64(p))), total + 8, nil
	case KindString, KindEnum:
		n, m, err := readVarint(p)
		if err != nil || uint64(len(p)-m) < n {
			return Data{}, 0, errMalformedData
		}
		s := string(p[m : m+int(n)])
		if kind == KindEnum {
			return EnumData(s), total + m + int(n), nil
		}
		return StringData(s), total + m + int(n), nil
	case KindAddress:
		addr, n, err := unmarshalAddr(p)
		if err != nil {
			return Data{}, 0, err
		}
		return AddressData(addr), total + n, nil
	case KindSubnet:
		addr, n, err := unmarshalAddr(p)
		if err != nil {
			return Data{}, 0, err
		}
		p = p[n:]
		if len(p) < 1 {
			return Data{}, 0, errMalformedData
		}
		bits := int(p[0])
		prefix := netip.PrefixFrom(addr, bits)
		return SubnetData(prefix), total + n + 1, nil
	case KindPort:
		if len(p) < 2 {
			return Data{}, 0, errMalformedData
		}
		return PortData(binary.LittleEndian.Uint16(p)), total + 2, nil
	case KindTimestamp:
		if len(p) < 8 {
			return Data{}, 0, errMalformedData
		}
		nsec := int64(binary.LittleEndian.Uint64(p))
		return TimestampData(time.Unix(0, nsec).UTC()), total + 8, nil
	case KindTimespan:
		if len(p) < 8 {
			return Data{}, 0, errMalformedData
		}
		return TimespanData(time.Duration(int64(binary.LittleEndian.Uint64(p)))), total + 8, nil
	case KindVector, KindSet:
		count, m, err := readVarint(p)
		if err != nil {
			return Data{}, 0, errMalformedData
		}
		p = p[m:]
		total += m
		elems := make([]Data, 0, count)
		for i := uint64(0); i < count; i++ {
			e, n, err := unmarshalData(p)
			if err != nil {
				return Data{}, 0, err
			}
			elems = append(elems, e)
			p = p[n:]
			total += n
		}
		if kind == KindSet {
			return SetData(elems...), total, nil
		}
		return VectorData(elems...), total, nil
	case KindTable:
		count, m, err := readVarint(p)
		if err != nil {
			return Data{}, 0, errMalformedData
		}
		p = p[m:]
		total += m
		entries := make([]TableEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			k, n, err := unmarshalData(p)
			if err != nil {
				return Data{}, 0, err
			}
			p = p[n:]
			total += n
			v, n, err := unmarshalData(p)
			if err != nil {
				return Data{}, 0, err
			}
			p = p[n:]
			total += n
			entries = append(entries, TableEntry{Key: k, Value: v})
		}
		return TableData(entries...), total, nil
	default:
		return Data{}, 0, errMalformedData
	}
}

func marshalAddr(addr netip.Addr, buf []byte) []byte {
	b := addr.AsSlice()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

func unmarshalAddr(p []byte) (netip.Addr, int, error) {
	if len(p) < 1 {
		return netip.Addr{}, 0, errMalformedData
	}
	n := int(p[0])
	if len(p)-1 < n {
		return netip.Addr{}, 0, errMalformedData
	}
	b := p[1 : 1+n]
	var addr netip.Addr
	switch n {
	case 4:
		addr = netip.AddrFrom4([4]byte(b))
	case 16:
		addr = netip.AddrFrom16([16]byte(b))
	default:
		return netip.Addr{}, 0, errMalformedData
	}
	return addr, 1 + n, nil
}

// -- command encoding --------------------------------------------------------

func marshalCommand(c Command, buf []byte) []byte {
	buf = append(buf, byte(c.tag))
	switch c.tag {
	case CmdPut, CmdPutUnique:
		buf = marshalData(c.key, buf)
		buf = marshalData(c.value, buf)
		if c.hasExpiry {
			buf = append(buf, 1)
			buf = appendUint64(buf, uint64(c.expiry.UnixNano()))
		} else {
			buf = append(buf, 0)
		}
	case CmdErase:
		buf = marshalData(c.key, buf)
	case CmdAdd, CmdSubtract:
		buf = marshalData(c.key, buf)
		buf = marshalData(c.value, buf)
	case CmdSet, CmdSnapshotReply:
		buf = appendVarint(buf, uint64(len(c.pairs)))
		for _, e := range c.pairs {
			buf = marshalData(e.Key, buf)
			buf = marshalData(e.Value, buf)
		}
	case CmdClear:
	case CmdSnapshot:
		buf = marshalPeerID(c.requester, buf)
	}
	return buf
}

func unmarshalCommand(p []byte) (Command, int, error) {
	if len(p) < 1 {
		return Command{}, 0, errMalformedCommand
	}
	tag := CommandTag(p[0])
	p = p[1:]
	total := 1

	switch tag {
	case CmdPut, CmdPutUnique:
		key, n, err := unmarshalData(p)
		if err != nil {
			return Command{}, 0, err
		}
		p = p[n:]
		total += n
		value, n, err := unmarshalData(p)
		if err != nil {
			return Command{}, 0, err
		}
		p = p[n:]
		total += n
		if len(p) < 1 {
			return Command{}, 0, errMalformedCommand
		}
		hasExpiry := p[0] != 0
		p = p[1:]
		total++
		var expiry *time.Time
		if hasExpiry {
			if len(p) < 8 {
				return Command{}, 0, errMalformedCommand
			}
			t := time.Unix(0, int64(binary.LittleEndian.Uint64(p))).UTC()
			expiry = &t
			p = p[8:]
			total += 8
		}
		if tag == CmdPutUnique {
			return PutUniqueCommand(key, value, expiry), total, nil
		}
		return PutCommand(key, value, expiry), total, nil
	case CmdErase:
		key, n, err := unmarshalData(p)
		if err != nil {
			return Command{}, 0, err
		}
		return EraseCommand(key), total + n, nil
	case CmdAdd, CmdSubtract:
		key, n, err := unmarshalData(p)
		if err != nil {
			return Command{}, 0, err
		}
		p = p[n:]
		total += n
		value, n, err := unmarshalData(p)
		if err != nil {
			return Command{}, 0, err
		}
		total += n
		if tag == CmdAdd {
			return AddCommand(key, value), total, nil
		}
		return SubtractCommand(key, value), total, nil
	case CmdSet, CmdSnapshotReply:
		count, n, err := readVarint(p)
		if err != nil {
			return Command{}, 0, errMalformedCommand
		}
		p = p[n:]
		total += n
		pairs := make([]TableEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			k, n, err := unmarshalData(p)
			if err != nil {
				return Command{}, 0, err
			}
			p = p[n:]
			total += n
			v, n, err := unmarshalData(p)
			if err != nil {
				return Command{}, 0, err
			}
			p = p[n:]
			total += n
			pairs = append(pairs, TableEntry{Key: k, Value: v})
		}
		if tag == CmdSnapshotReply {
			return SnapshotReplyCommand(pairs...), total, nil
		}
		return SetCommand(pairs...), total, nil
	case CmdClear:
		return ClearCommand(), total, nil
	case CmdSnapshot:
		id, n, err := unmarshalPeerID(p)
		if err != nil {
			return Command{}, 0, err
		}
		return SnapshotCommand(id), total + n, nil
	default:
		return Command{}, 0, errMalformedCommand
	}
}
