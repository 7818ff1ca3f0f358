// Package blacklist maintains exact-match deny-lists of known-bad users,
// IP addresses, payment instruments and merchants.
//
// Lookups are O(1) map hits under a read lock so the scoring hot path can
// check many transactions concurrently while administrative writes are
// serialized.
package blacklist

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Kind selects one of the four disjoint sets.
type Kind string

const (
	KindUser       Kind = "user"
	KindIP         Kind = "ip"
	KindInstrument Kind = "instrument"
	KindMerchant   Kind = "merchant"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindUser, KindIP, KindInstrument, KindMerchant}

// ErrUnknownKind is returned by ParseKind for unrecognized names.
var ErrUnknownKind = errors.New("unknown blacklist kind")

// ParseKind accepts the canonical kind names plus their plural/legacy aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "users":
		return KindUser, nil
	case "ip", "ips":
		return KindIP, nil
	case "instrument", "instruments", "card", "cards":
		return KindInstrument, nil
	case "merchant", "merchants":
		return KindMerchant, nil
	default:
		return "", ErrUnknownKind
	}
}

// Normalize returns the stored form of value for kind. Users and merchants
// are trimmed and case-folded; IPs and instruments are only trimmed.
// The boolean is false when nothing is left after trimming.
func Normalize(kind Kind, value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}
	switch kind {
	case KindUser, KindMerchant:
		v = strings.ToLower(v)
	case KindIP, KindInstrument:
	default:
		return "", false
	}
	return v, true
}

// Counts reports the size of each set.
type Counts struct {
	Users       int `json:"users"`
	IPs         int `json:"ips"`
	Instruments int `json:"instruments"`
	Merchants   int `json:"merchants"`
	Total       int `json:"total"`
}

// Listing is a snapshot of every set, each sorted ascending.
type Listing struct {
	Users       []string `json:"users"`
	IPs         []string `json:"ips"`
	Instruments []string `json:"instruments"`
	Merchants   []string `json:"merchants"`
}

// Index holds the four sets.
type Index struct {
	mu   sync.RWMutex
	sets map[Kind]map[string]struct{}
}

// New creates an empty index.
func New() *Index {
	idx := &Index{sets: make(map[Kind]map[string]struct{}, len(Kinds))}
	for _, k := range Kinds {
		idx.sets[k] = make(map[string]struct{})
	}
	return idx
}

// Add inserts value into the set for kind and reports whether it was newly
// inserted. Re-adding a present value and malformed input (unknown kind,
// blank value) are no-ops that return false.
func (i *Index) Add(kind Kind, value string) bool {
	key, ok := Normalize(kind, value)
	if !ok {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	set := i.sets[kind]
	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Remove deletes value from the set for kind and reports whether it was present.
func (i *Index) Remove(kind Kind, value string) bool {
	key, ok := Normalize(kind, value)
	if !ok {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	set := i.sets[kind]
	if _, exists := set[key]; !exists {
		return false
	}
	delete(set, key)
	return true
}

// Contains checks membership (O(1)).
func (i *Index) Contains(kind Kind, value string) bool {
	key, ok := Normalize(kind, value)
	if !ok {
		return false
	}
	i.mu.RLock()
	_, exists := i.sets[kind][key]
	i.mu.RUnlock()
	return exists
}

// Counts returns per-kind sizes.
func (i *Index) Counts() Counts {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c := Counts{
		Users:       len(i.sets[KindUser]),
		IPs:         len(i.sets[KindIP]),
		Instruments: len(i.sets[KindInstrument]),
		Merchants:   len(i.sets[KindMerchant]),
	}
	c.Total = c.Users + c.IPs + c.Instruments + c.Merchants
	return c
}

// All returns a sorted copy of every set.
func (i *Index) All() Listing {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Listing{
		Users:       sortedKeys(i.sets[KindUser]),
		IPs:         sortedKeys(i.sets[KindIP]),
		Instruments: sortedKeys(i.sets[KindInstrument]),
		Merchants:   sortedKeys(i.sets[KindMerchant]),
	}
}

// Clear empties all four sets.
func (i *Index) Clear() {
	i.mu.Lock()
	for _, k := range Kinds {
		i.sets[k] = make(map[string]struct{})
	}
	i.mu.Unlock()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
