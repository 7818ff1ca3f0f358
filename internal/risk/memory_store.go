package risk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryNetworks is an in-memory NetworkRegistry. It also carries the
// administrative flag/unflag operations.
type MemoryNetworks struct {
	mu      sync.RWMutex
	records map[string]*NetworkRecord // address → record
	now     func() time.Time
}

// NewMemoryNetworks creates an empty registry.
func NewMemoryNetworks() *MemoryNetworks {
	return &MemoryNetworks{
		records: make(map[string]*NetworkRecord),
		now:     time.Now,
	}
}

// Touch finds or creates the record for address, links actorID and counts
// one transaction. The returned record is a copy.
func (m *MemoryNetworks) Touch(_ context.Context, address, actorID, _ string) (NetworkRecord, error) {
	address = strings.TrimSpace(address)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreateLocked(address, now)
	if actorID != "" && !containsString(rec.LinkedActors, actorID) {
		rec.LinkedActors = append(rec.LinkedActors, actorID)
	}
	rec.TransactionCount++
	rec.LastSeen = now
	return copyRecord(rec), nil
}

// Flag marks address as suspicious, creating the record if needed.
func (m *MemoryNetworks) Flag(address, reason string) NetworkRecord {
	address = strings.TrimSpace(address)
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreateLocked(address, m.now())
	rec.Flagged = true
	rec.FlagReason = reason
	return copyRecord(rec)
}

// Unflag clears the flag. It returns ErrNotFound for unknown addresses.
func (m *MemoryNetworks) Unflag(address string) (NetworkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[strings.TrimSpace(address)]
	if !ok {
		return NetworkRecord{}, ErrNotFound
	}
	rec.Flagged = false
	rec.FlagReason = ""
	return copyRecord(rec), nil
}

// Get returns the record for address.
func (m *MemoryNetworks) Get(address string) (NetworkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[strings.TrimSpace(address)]
	if !ok {
		return NetworkRecord{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

// List returns every record, most linked actors first.
func (m *MemoryNetworks) List(flaggedOnly bool) []NetworkRecord {
	m.mu.RLock()
	out := make([]NetworkRecord, 0, len(m.records))
	for _, rec := range m.records {
		if flaggedOnly && !rec.Flagged {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].LinkedActors) != len(out[j].LinkedActors) {
			return len(out[i].LinkedActors) > len(out[j].LinkedActors)
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (m *MemoryNetworks) getOrCreateLocked(address string, now time.Time) *NetworkRecord {
	rec, ok := m.records[address]
	if !ok {
		rec = &NetworkRecord{Address: address, FirstSeen: now, LastSeen: now}
		m.records[address] = rec
	}
	return rec
}

func copyRecord(rec *NetworkRecord) NetworkRecord {
	c := *rec
	c.LinkedActors = append([]string(nil), rec.LinkedActors...)
	return c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
