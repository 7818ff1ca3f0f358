// Package pagination provides keyset pagination for transaction listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (created_at, transaction_id) key of the last row on a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Page describes one page of a listing.
type Page struct {
	Total      int    `json:"total"`
	Limit      int    `json:"limit"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Encode returns an opaque cursor for a row.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor from Encode. Empty input yields nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// ParseLimit reads a limit query value, falling back to DefaultLimit and
// clamping to MaxLimit.
func ParseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// ComputePage trims items fetched with limit+1 and reports the cursor of
// the last kept item when more rows follow.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, Page) {
	page := Page{Limit: limit}
	if len(items) <= limit {
		return items, page
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	page.NextCursor = Encode(createdAt, id)
	page.HasMore = true
	return items, page
}
