package broker

import "strings"

// cloneSuffix marks topics carrying clone-to-master traffic. The peer
// layer refuses to forward such a message beyond its immediate recipient.
const cloneSuffix = "/clone"

// Topic is a non-empty '/'-separated byte string. Topics order
// lexicographically.
type Topic string

// IsInternal reports whether t is reserved for broker-internal use, such
// as the status and error topics published by an endpoint.
func (t Topic) IsInternal() bool {
	return strings.HasPrefix(string(t), "broker/")
}

// IsCloneTraffic reports whether t carries clone-to-master mutations,
// which must never be forwarded beyond one hop.
func (t Topic) IsCloneTraffic() bool {
	return strings.HasSuffix(string(t), cloneSuffix)
}

// cloneTopic returns the reserved clone-traffic topic a clone uses to
// forward mutations to its master.
func cloneTopic(master Topic) Topic {
	return master + cloneSuffix
}

// matchesPrefix reports whether prefix is equal to topic or is followed
// in topic by a '/'.
func matchesPrefix(topic, prefix Topic) bool {
	t, p := string(topic), string(prefix)
	if len(p) > len(t) {
		return false
	}
	if t[:len(p)] != p {
		return false
	}
	return len(p) == len(t) || t[len(p)] == '/'
}

// Filter is a canonicalized set of topic prefixes: no prefix in the set
// is a proper prefix of another. A topic matches a filter iff some
// prefix in the filter either equals the topic or is followed in the
// topic by '/'.
type Filter []Topic

// NewFilter canonicalizes prefixes into a Filter.
func NewFilter(prefixes ...Topic) Filter {
	var f Filter
	for _, p := range prefixes {
		f = f.add(p)
	}
	return f
}

// Matches reports whether topic matches the filter.
func (f Filter) Matches(topic Topic) bool {
	for _, prefix := range f {
		if matchesPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter has no prefixes.
func (f Filter) Empty() bool {
	return len(f) == 0
}

// Equal reports whether f and other contain the same canonical prefixes.
func (f Filter) Equal(other Filter) bool {
	if len(f) != len(other) {
		return false
	}
	seen := make(map[Topic]bool, len(f))
	for _, p := range f {
		seen[p] = true
	}
	for _, p := range other {
		if !seen[p] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	copy(out, f)
	return out
}

// add inserts prefix into the filter, dropping any existing prefix that
// prefix subsumes and refusing to insert it if it is itself subsumed by
// an existing prefix.
func (f Filter) add(prefix Topic) Filter {
	for _, existing := range f {
		if matchesPrefix(prefix, existing) {
			return f // prefix is already covered
		}
	}
	out := f[:0:0]
	for _, existing := range f {
		if !matchesPrefix(existing, prefix) {
			out = append(out, existing)
		}
	}
	return append(out, prefix)
}

// filterExtend merges the topics of what into f for which keep returns
// true, reporting whether the filter actually changed. keep is used to
// exclude internal topics from outward subscription propagation.
func filterExtend(f *Filter, what Filter, keep func(Topic) bool) bool {
	original := *f
	merged := original
	for _, prefix := range what {
		if keep == nil || keep(prefix) {
			merged = merged.add(prefix)
		}
	}
	if merged.Equal(original) {
		return false
	}
	*f = merged
	return true
}
