package uuid_cache

import "sort"

// Snapshot is the full uuid-cache hash as fetched: player name to raw value.
// It is never modified after the fetch; derived views are new maps.
type Snapshot map[string]string

// KeySet is a set of snapshot keys.
type KeySet map[string]struct{}

// NewKeySet returns a set holding keys.
func NewKeySet(keys ...string) KeySet {
	set := make(KeySet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func (ks KeySet) Has(key string) bool {
	_, ok := ks[key]
	return ok
}

// Sorted returns the keys in ascending order.
func (ks KeySet) Sorted() []string {
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Keys returns the snapshot keys in ascending order.
func (s Snapshot) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Without returns a new snapshot holding every entry whose key is not in drop.
func (s Snapshot) Without(drop KeySet) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if drop.Has(k) {
			continue
		}
		out[k] = v
	}
	return out
}
