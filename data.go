package broker

import (
	"bytes"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind tags the value carried by a Data. The total order over Data
// values orders first by Kind, then by the kind-specific value order.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindCount
	KindInteger
	KindReal
	KindString
	KindAddress
	KindSubnet
	KindPort
	KindTimestamp
	KindTimespan
	KindEnum
	KindVector
	KindSet
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindCount:
		return "count"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindAddress:
		return "address"
	case KindSubnet:
		return "subnet"
	case KindPort:
		return "port"
	case KindTimestamp:
		return "timestamp"
	case KindTimespan:
		return "timespan"
	case KindEnum:
		return "enum"
	case KindVector:
		return "vector"
	case KindSet:
		return "set"
	case KindTable:
		return "table"
	default:
		return "unknown"
	}
}

// TableEntry is a single key/value pair of a Data table, kept sorted by
// key within the table's backing slice.
type TableEntry struct {
	Key   Data
	Value Data
}

// Data is a tagged union over the value kinds a command or a published
// message can carry. The zero Data is KindNil.
type Data struct {
	kind   Kind
	b      bool
	u64    uint64
	i64    int64
	f64    float64
	str    string
	addr   netip.Addr
	subnet netip.Prefix
	port   uint16
	ts     time.Time
	span   time.Duration
	seq    []Data       // vector, set (sorted)
	table  []TableEntry // sorted by Key
}

// NilData returns the nil data value.
func NilData() Data { return Data{kind: KindNil} }

// BoolData wraps a bool.
func BoolData(v bool) Data { return Data{kind: KindBool, b: v} }

// CountData wraps an unsigned 64-bit count.
func CountData(v uint64) Data { return Data{kind: KindCount, u64: v} }

// IntegerData wraps a signed 64-bit integer.
func IntegerData(v int64) Data { return Data{kind: KindInteger, i64: v} }

// RealData wraps a float64.
func RealData(v float64) Data { return Data{kind: KindReal, f64: v} }

// StringData wraps a string.
func StringData(v string) Data { return Data{kind: KindString, str: v} }

// AddressData wraps an IP address.
func AddressData(v netip.Addr) Data { return Data{kind: KindAddress, addr: v} }

// SubnetData wraps an IP subnet.
func SubnetData(v netip.Prefix) Data { return Data{kind: KindSubnet, subnet: v} }

// PortData wraps a 16-bit port number.
func PortData(v uint16) Data { return Data{kind: KindPort, port: v} }

// TimestampData wraps a point in time.
func TimestampData(v time.Time) Data { return Data{kind: KindTimestamp, ts: v} }

// TimespanData wraps a duration.
func TimespanData(v time.Duration) Data { return Data{kind: KindTimespan, span: v} }

// EnumData wraps an enumeration value, identified by name.
func EnumData(v string) Data { return Data{kind: KindEnum, str: v} }

// VectorData wraps an ordered sequence of values.
func VectorData(elems ...Data) Data {
	seq := make([]Data, len(elems))
	copy(seq, elems)
	return Data{kind: KindVector, seq: seq}
}

// SetData wraps an ordered set of values, deduplicated and sorted by
// the total order defined on Data.
func SetData(elems ...Data) Data {
	seq := make([]Data, len(elems))
	copy(seq, elems)
	sort.Slice(seq, func(i, j int) bool { return seq[i].Less(seq[j]) })
	seq = dedupSorted(seq)
	return Data{kind: KindSet, seq: seq}
}

// TableData wraps a table of key/value pairs, sorted by key.
func TableData(entries ...TableEntry) Data {
	table := make([]TableEntry, len(entries))
	copy(table, entries)
	sort.SliceStable(table, func(i, j int) bool { return table[i].Key.Less(table[j].Key) })
	table = dedupTableSorted(table)
	return Data{kind: KindTable, table: table}
}

func dedupSorted(seq []Data) []Data {
	out := seq[:0:0]
	for i, d := range seq {
		if i == 0 || !d.Equal(seq[i-1]) {
			out = append(out, d)
		}
	}
	return out
}

func dedupTableSorted(table []TableEntry) []TableEntry {
	out := table[:0:0]
	for i, e := range table {
		if i == 0 || !e.Key.Equal(table[i-1].Key) {
			out = append(out, e)
		} else {
			out[len(out)-1] = e // last write for a duplicate key wins
		}
	}
	return out
}

// Kind reports the value kind stored in d.
func (d Data) Kind() Kind { return d.kind }

// IsNil reports whether d holds the nil value.
func (d Data) IsNil() bool { return d.kind == KindNil }

// Bool returns the bool value, or false if d is not a bool.
func (d Data) Bool() bool { return d.b }

// Count returns the count value, or 0 if d is not a count.
func (d Data) Count() uint64 { return d.u64 }

// Integer returns the integer value, or 0 if d is not an integer.
func (d Data) Integer() int64 { return d.i64 }

// Real returns the real value, or 0 if d is not a real.
func (d Data) Real() float64 { return d.f64 }

// String returns the string representation of d for KindString and
// KindEnum, or a debug rendering for every other kind.
func (d Data) String() string {
	switch d.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(d.b)
	case KindCount:
		return strconv.FormatUint(d.u64, 10)
	case KindInteger:
		return strconv.FormatInt(d.i64, 10)
	case KindReal:
		return strconv.FormatFloat(d.f64, 'g', -1, 64)
	case KindString, KindEnum:
		return d.str
	case KindAddress:
		return d.addr.String()
	case KindSubnet:
		return d.subnet.String()
	case KindPort:
		return strconv.FormatUint(uint64(d.port), 10)
	case KindTimestamp:
		return d.ts.Format(time.RFC3339Nano)
	case KindTimespan:
		return d.span.String()
	case KindVector:
		return joinData(d.seq, "[", "]")
	case KindSet:
		return joinData(d.seq, "{", "}")
	case KindTable:
		parts := make([]string, len(d.table))
		for i, e := range d.table {
			parts[i] = fmt.Sprintf("%s: %s", e.Key.String(), e.Value.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid>"
	}
}

func joinData(seq []Data, open, tail string) string {
	parts := make([]string, len(seq))
	for i, d := range seq {
		parts[i] = d.String()
	}
	return open + strings.Join(parts, ", ") + tail
}

// Address returns the address value.
func (d Data) Address() netip.Addr { return d.addr }

// Subnet returns the subnet value.
func (d Data) Subnet() netip.Prefix { return d.subnet }

// Port returns the port value.
func (d Data) Port() uint16 { return d.port }

// Timestamp returns the timestamp value.
func (d Data) Timestamp() time.Time { return d.ts }

// Timespan returns the timespan value.
func (d Data) Timespan() time.Duration { return d.span }

// Vector returns the elements of a vector value.
func (d Data) Vector() []Data { return d.seq }

// Set returns the elements of a set value, in sorted order.
func (d Data) Set() []Data { return d.seq }

// Table returns the entries of a table value, sorted by key.
func (d Data) Table() []TableEntry { return d.table }

// IsNumeric reports whether d holds a count, integer or real value.
func (d Data) IsNumeric() bool {
	switch d.kind {
	case KindCount, KindInteger, KindReal:
		return true
	default:
		return false
	}
}

// IsContainer reports whether d holds a vector, set or table value.
func (d Data) IsContainer() bool {
	switch d.kind {
	case KindVector, KindSet, KindTable:
		return true
	default:
		return false
	}
}

// Equal reports whether d and other carry the same value.
func (d Data) Equal(other Data) bool {
	return d.Kind() == other.Kind() && !d.Less(other) && !other.Less(d)
}

// Less implements the total order over Data: first by Kind, then by the
// kind-specific value order.
func (d Data) Less(other Data) bool {
	if d.kind != other.kind {
		return d.kind < other.kind
	}
	switch d.kind {
	case KindNil:
		return false
	case KindBool:
		return !d.b && other.b
	case KindCount:
		return d.u64 < other.u64
	case KindInteger:
		return d.i64 < other.i64
	case KindReal:
		return d.f64 < other.f64
	case KindString, KindEnum:
		return d.str < other.str
	case KindAddress:
		return bytes.Compare(d.addr.AsSlice(), other.addr.AsSlice()) < 0
	case KindSubnet:
		c := bytes.Compare(d.subnet.Addr().AsSlice(), other.subnet.Addr().AsSlice())
		if c != 0 {
			return c < 0
		}
		return d.subnet.Bits() < other.subnet.Bits()
	case KindPort:
		return d.port < other.port
	case KindTimestamp:
		return d.ts.Before(other.ts)
	case KindTimespan:
		return d.span < other.span
	case KindVector, KindSet:
		return lessSeq(d.seq, other.seq)
	case KindTable:
		return lessTable(d.table, other.table)
	default:
		return false
	}
}

func lessSeq(a, b []Data) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Less(b[i]) {
			return true
		}
		if b[i].Less(a[i]) {
			return false
		}
	}
	return len(a) < len(b)
}

func lessTable(a, b []TableEntry) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Key.Less(b[i].Key) {
			return true
		}
		if b[i].Key.Less(a[i].Key) {
			return false
		}
		if a[i].Value.Less(b[i].Value) {
			return true
		}
		if b[i].Value.Less(a[i].Value) {
			return false
		}
	}
	return len(a) < len(b)
}

// Hash returns a canonical string representation of d suitable for use
// as a map key. Values that compare Equal produce the same Hash.
func (d Data) Hash() string {
	var buf strings.Builder
	d.writeHash(&buf)
	return buf.String()
}

func (d Data) writeHash(buf *strings.Builder) {
	buf.WriteByte(byte(d.kind))
	switch d.kind {
	case KindNil:
	case KindBool:
		if d.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindCount:
		fmt.Fprintf(buf, "%d", d.u64)
	case KindInteger:
		fmt.Fprintf(buf, "%d", d.i64)
	case KindReal:
		fmt.Fprintf(buf, "%v", d.f64)
	case KindString, KindEnum:
		fmt.Fprintf(buf, "%d:%s", len(d.str), d.str)
	case KindAddress:
		buf.Write(d.addr.AsSlice())
	case KindSubnet:
		buf.Write(d.subnet.Addr().AsSlice())
		fmt.Fprintf(buf, "/%d", d.subnet.Bits())
	case KindPort:
		fmt.Fprintf(buf, "%d", d.port)
	case KindTimestamp:
		fmt.Fprintf(buf, "%d", d.ts.UnixNano())
	case KindTimespan:
		fmt.Fprintf(buf, "%d", int64(d.span))
	case KindVector, KindSet:
		fmt.Fprintf(buf, "%d:", len(d.seq))
		for _, e := range d.seq {
			e.writeHash(buf)
		}
	case KindTable:
		fmt.Fprintf(buf, "%d:", len(d.table))
		for _, e := range d.table {
			e.Key.writeHash(buf)
			e.Value.writeHash(buf)
		}
	}
}
