package broker

import (
	"net/netip"
	"testing"
	"time"
)

func TestDataEqual(t *testing.T) {
	cases := []struct {
		a, b Data
		want bool
	}{
		{NilData(), NilData(), true},
		{CountData(3), CountData(3), true},
		{CountData(3), CountData(4), false},
		{IntegerData(-1), CountData(1), false},
		{StringData("x"), StringData("x"), true},
		{VectorData(CountData(1), CountData(2)), VectorData(CountData(1), CountData(2)), true},
		{VectorData(CountData(1), CountData(2)), VectorData(CountData(2), CountData(1)), false},
		{SetData(CountData(2), CountData(1)), SetData(CountData(1), CountData(2)), true},
	}
	for i, c := range cases {
		if got := c.a.Equal(c.b); got != c.want {
			t.Errorf("case %d: Equal() = %v, want %v", i, got, c.want)
		}
	}
}

func TestDataLessOrdersByKindFirst(t *testing.T) {
	if !BoolData(true).Less(CountData(0)) {
		t.Fatal("expected bool to sort before count regardless of value")
	}
	if CountData(0).Less(BoolData(true)) {
		t.Fatal("expected count to never sort before bool")
	}
}

func TestDataLessWithinKind(t *testing.T) {
	switch {
	case !CountData(1).Less(CountData(2)):
		t.Fatal("expected 1 < 2")
	case CountData(2).Less(CountData(1)):
		t.Fatal("expected 2 not< 1")
	case !IntegerData(-5).Less(IntegerData(5)):
		t.Fatal("expected -5 < 5")
	case !StringData("a").Less(StringData("b")):
		t.Fatal("expected a < b")
	}
}

func TestDataLessVectorIsLexicographic(t *testing.T) {
	short := VectorData(CountData(1))
	long := VectorData(CountData(1), CountData(0))
	if !short.Less(long) {
		t.Fatal("expected shared-prefix shorter vector to sort first")
	}
}

func TestSetDataDedupsAndSorts(t *testing.T) {
	s := SetData(CountData(3), CountData(1), CountData(1), CountData(2))
	elems := s.Set()
	if len(elems) != 3 {
		t.Fatalf("unexpected set size: %d", len(elems))
	}
	for i, want := range []uint64{1, 2, 3} {
		if elems[i].Count() != want {
			t.Fatalf("unexpected element at %d: %v", i, elems[i])
		}
	}
}

func TestTableDataLastWriteWinsOnDuplicateKey(t *testing.T) {
	tbl := TableData(
		TableEntry{Key: StringData("k"), Value: IntegerData(1)},
		TableEntry{Key: StringData("k"), Value: IntegerData(2)},
	)
	entries := tbl.Table()
	if len(entries) != 1 {
		t.Fatalf("unexpected table size: %d", len(entries))
	}
	if entries[0].Value.Integer() != 2 {
		t.Fatalf("unexpected value for duplicate key: %v", entries[0].Value)
	}
}

func TestDataHashMatchesForEqualValues(t *testing.T) {
	a := TableData(TableEntry{Key: StringData("k"), Value: CountData(1)})
	b := TableData(TableEntry{Key: StringData("k"), Value: CountData(1)})
	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal hashes, got %q and %q", a.Hash(), b.Hash())
	}
}

func TestDataHashDiffersForDifferentValues(t *testing.T) {
	a := CountData(1)
	b := IntegerData(1)
	if a.Hash() == b.Hash() {
		t.Fatal("expected different kinds to hash differently")
	}
}

func TestDataAsMapKey(t *testing.T) {
	m := make(map[string]Data)
	m[CountData(1).Hash()] = StringData("one")
	if v, ok := m[CountData(1).Hash()]; !ok || v.String() != "one" {
		t.Fatalf("unexpected lookup result: %v, %v", v, ok)
	}
}

func TestDataNetworkKinds(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")
	subnet := netip.MustParsePrefix("192.0.2.0/24")

	a := AddressData(addr)
	s := SubnetData(subnet)
	p := PortData(443)

	switch {
	case a.Address() != addr:
		t.Fatalf("unexpected address: %v", a.Address())
	case s.Subnet() != subnet:
		t.Fatalf("unexpected subnet: %v", s.Subnet())
	case p.Port() != 443:
		t.Fatalf("unexpected port: %v", p.Port())
	}
}

func TestDataTimeKinds(t *testing.T) {
	now := time.Now().UTC()
	span := 3 * time.Second

	ts := TimestampData(now)
	tspan := TimespanData(span)

	if !ts.Timestamp().Equal(now) {
		t.Fatalf("unexpected timestamp: %v", ts.Timestamp())
	}
	if tspan.Timespan() != span {
		t.Fatalf("unexpected timespan: %v", tspan.Timespan())
	}
}

func TestDataIsNumericAndIsContainer(t *testing.T) {
	cases := []struct {
		d             Data
		numeric, cont bool
	}{
		{CountData(1), true, false},
		{IntegerData(1), true, false},
		{RealData(1), true, false},
		{StringData("x"), false, false},
		{VectorData(), false, true},
		{SetData(), false, true},
		{TableData(), false, true},
	}
	for i, c := range cases {
		if got := c.d.IsNumeric(); got != c.numeric {
			t.Errorf("case %d: IsNumeric() = %v, want %v", i, got, c.numeric)
		}
		if got := c.d.IsContainer(); got != c.cont {
			t.Errorf("case %d: IsContainer() = %v, want %v", i, got, c.cont)
		}
	}
}
