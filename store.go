package broker

import "time"

// dataStore is a map<data, data> keyed by Data.Hash(), shared between
// master and clone so both apply the command table (§4.4) identically.
// Entries carry an optional expiry, checked lazily on read.
type dataStore struct {
	entries map[string]storeEntry
}

type storeEntry struct {
	key    Data
	value  Data
	expiry time.Time
	expire bool
}

func newDataStore() *dataStore {
	return &dataStore{entries: make(map[string]storeEntry)}
}

// get returns the value at key, honoring lazy expiry.
func (s *dataStore) get(key Data, now time.Time) (Data, bool) {
	e, ok := s.entries[key.Hash()]
	if !ok {
		return Data{}, false
	}
	if e.expire && !e.expiry.After(now) {
		delete(s.entries, key.Hash())
		return Data{}, false
	}
	return e.value, true
}

func (s *dataStore) put(key, value Data, expiry *time.Time) {
	e := storeEntry{key: key, value: value}
	if expiry != nil {
		e.expiry, e.expire = *expiry, true
	}
	s.entries[key.Hash()] = e
}

func (s *dataStore) erase(key Data) {
	delete(s.entries, key.Hash())
}

func (s *dataStore) clear() {
	s.entries = make(map[string]storeEntry)
}

// keys returns every live (non-expired) key currently stored.
func (s *dataStore) keys(now time.Time) []Data {
	out := make([]Data, 0, len(s.entries))
	for k, e := range s.entries {
		if e.expire && !e.expiry.After(now) {
			delete(s.entries, k)
			continue
		}
		out = append(out, e.key)
	}
	return out
}

// snapshot returns the store's contents as table entries in no
// particular order, suitable for wiring into a SetCommand or a snapshot
// reply.
func (s *dataStore) snapshot(now time.Time) []TableEntry {
	out := make([]TableEntry, 0, len(s.entries))
	for k, e := range s.entries {
		if e.expire && !e.expiry.After(now) {
			delete(s.entries, k)
			continue
		}
		out = append(out, TableEntry{Key: e.key, Value: e.value})
	}
	return out
}

// replace discards the current contents and installs pairs verbatim,
// used by both set and snapshot-install.
func (s *dataStore) replace(pairs []TableEntry) {
	s.entries = make(map[string]storeEntry, len(pairs))
	for _, p := range pairs {
		s.entries[p.Key.Hash()] = storeEntry{key: p.Key, value: p.Value}
	}
}

// applyAdd implements the add command (§4.4): numeric accumulation, set
// union, vector append or table merge depending on the stored value's
// kind, treating an absent key as zero/empty for its delta's kind.
func (s *dataStore) applyAdd(key, delta Data, now time.Time) (Data, error) {
	cur, ok := s.get(key, now)
	if !ok {
		cur = zeroFor(delta)
	}
	result, err := addData(cur, delta)
	if err != nil {
		return Data{}, err
	}
	s.put(key, result, nil)
	return result, nil
}

// applySubtract implements the subtract command (§4.4).
func (s *dataStore) applySubtract(key, delta Data, now time.Time) (Data, error) {
	cur, ok := s.get(key, now)
	if !ok {
		cur = zeroFor(delta)
	}
	result, err := subtractData(cur, delta)
	if err != nil {
		return Data{}, err
	}
	s.put(key, result, nil)
	return result, nil
}

func zeroFor(delta Data) Data {
	switch delta.Kind() {
	case KindCount:
		return CountData(0)
	case KindInteger:
		return IntegerData(0)
	case KindReal:
		return RealData(0)
	case KindVector:
		return VectorData()
	case KindSet:
		return SetData()
	case KindTable:
		return TableData()
	default:
		return NilData()
	}
}

func addData(cur, delta Data) (Data, error) {
	if cur.Kind() != delta.Kind() {
		return Data{}, ErrTypeMismatch
	}
	switch cur.Kind() {
	case KindCount:
		return CountData(cur.Count() + delta.Count()), nil
	case KindInteger:
		return IntegerData(cur.Integer() + delta.Integer()), nil
	case KindReal:
		return RealData(cur.Real() + delta.Real()), nil
	case KindVector:
		return VectorData(append(append([]Data{}, cur.Vector()...), delta.Vector()...)...), nil
	case KindSet:
		return SetData(append(append([]Data{}, cur.Set()...), delta.Set()...)...), nil
	case KindTable:
		merged := append([]TableEntry{}, cur.Table()...)
		merged = append(merged, delta.Table()...)
		return TableData(merged...), nil
	default:
		return Data{}, ErrTypeMismatch
	}
}

func subtractData(cur, delta Data) (Data, error) {
	if cur.Kind() != delta.Kind() {
		return Data{}, ErrTypeMismatch
	}
	switch cur.Kind() {
	case KindCount:
		c, d := cur.Count(), delta.Count()
		if d > c {
			return CountData(0), nil
		}
		return CountData(c - d), nil
	case KindInteger:
		return IntegerData(cur.Integer() - delta.Integer()), nil
	case KindReal:
		return RealData(cur.Real() - delta.Real()), nil
	case KindSet:
		remove := make(map[string]bool, len(delta.Set()))
		for _, d := range delta.Set() {
			remove[d.Hash()] = true
		}
		kept := make([]Data, 0, len(cur.Set()))
		for _, d := range cur.Set() {
			if !remove[d.Hash()] {
				kept = append(kept, d)
			}
		}
		return SetData(kept...), nil
	case KindTable:
		remove := make(map[string]bool, len(delta.Table()))
		for _, e := range delta.Table() {
			remove[e.Key.Hash()] = true
		}
		kept := make([]TableEntry, 0, len(cur.Table()))
		for _, e := range cur.Table() {
			if !remove[e.Key.Hash()] {
				kept = append(kept, e)
			}
		}
		return TableData(kept...), nil
	case KindVector:
		return Data{}, ErrTypeMismatch // vector subtraction is not supported (§4.4)
	default:
		return Data{}, ErrTypeMismatch
	}
}
