// Package txstore persists scored transactions in memory.
//
// The store is the system of record for submitted transactions: their input
// fields, the verdict, and any manual review. It can also answer velocity
// queries from stored history.
package txstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudwatch/internal/pagination"
	"github.com/mbd888/fraudwatch/internal/risk"
)

// Record is a stored, scored transaction.
type Record struct {
	TransactionID     string                       `json:"transactionId"`
	ActorID           string                       `json:"userId"`
	Amount            decimal.Decimal              `json:"amount"`
	Merchant          string                       `json:"merchant"`
	Location          string                       `json:"location"`
	SourceAddress     string                       `json:"ipAddress"`
	Channel           string                       `json:"channel"`
	PaymentInstrument string                       `json:"paymentInstrument,omitempty"`
	RiskScore         int                          `json:"riskScore"`
	Status            risk.Status                  `json:"status"`
	Reasons           []string                     `json:"fraudReasons"`
	Factors           map[string]risk.FactorResult `json:"analysis,omitempty"`
	AssessmentID      string                       `json:"assessmentId"`
	ReviewedBy        string                       `json:"reviewedBy,omitempty"`
	ReviewedAt        *time.Time                   `json:"reviewedAt,omitempty"`
	SubmittedAt       time.Time                    `json:"submittedAt"`
	CreatedAt         time.Time                    `json:"createdAt"`
	UpdatedAt         time.Time                    `json:"updatedAt"`
}

// NewRecord builds a record from a transaction and its assessment. CreatedAt
// is the evaluation time; SubmittedAt keeps the caller's timestamp.
func NewRecord(tx *risk.Transaction, a *risk.Assessment) *Record {
	submitted := tx.SubmittedAt
	if submitted.IsZero() {
		submitted = a.EvaluatedAt
	}
	return &Record{
		TransactionID:     tx.TransactionID,
		ActorID:           tx.ActorID,
		Amount:            tx.Amount,
		Merchant:          tx.Merchant,
		Location:          tx.Location,
		SourceAddress:     tx.SourceAddress,
		Channel:           tx.Channel,
		PaymentInstrument: tx.PaymentInstrument,
		RiskScore:         a.RiskScore,
		Status:            a.Status,
		Reasons:           append([]string(nil), a.Reasons...),
		Factors:           a.Factors,
		AssessmentID:      a.ID,
		SubmittedAt:       submitted,
		CreatedAt:         a.EvaluatedAt,
	}
}

// Filter narrows List results.
type Filter struct {
	Status  risk.Status
	ActorID string
	Limit   int
	Cursor  *pagination.Cursor
	// Ascending lists oldest first; the default is newest first.
	Ascending bool
}

func (f Filter) matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return f.ActorID == "" || strings.EqualFold(r.ActorID, f.ActorID)
}

// ReviewUpdate is a reviewer's decision.
type ReviewUpdate struct {
	Status     risk.Status
	Notes      string
	ReviewedBy string
	At         time.Time
}

// MerchantCount is one row of the top-fraud-merchants report.
type MerchantCount struct {
	Merchant string `json:"merchant"`
	Count    int    `json:"count"`
}

// Summary aggregates stored transactions.
type Summary struct {
	TotalTransactions int             `json:"totalTransactions"`
	FraudDetected     int             `json:"fraudDetected"`
	SafeTransactions  int             `json:"safeTransactions"`
	UnderReview       int             `json:"underReview"`
	DetectionRate     float64         `json:"detectionRate"`
	AverageRiskScore  float64         `json:"averageRiskScore"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	TopFraudMerchants []MerchantCount `json:"topFraudMerchants"`
	// RiskDistribution buckets scores as [0,25) [25,50) [50,75) [75,100].
	RiskDistribution [4]int `json:"riskDistribution"`
}

// Store persists transactions.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, transactionID string) (*Record, error)
	List(ctx context.Context, f Filter) ([]*Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	UpdateReview(ctx context.Context, transactionID string, u ReviewUpdate) (*Record, error)
	Summary(ctx context.Context, since time.Time) (Summary, error)
	CountRecent(ctx context.Context, q risk.HistoryQuery) (int, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Save stores r. Transaction IDs are unique.
func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.TransactionID]; exists {
		return risk.ErrDuplicateTransaction
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.records[r.TransactionID] = copyRecord(r)
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, transactionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[transactionID]
	if !ok {
		return nil, risk.ErrNotFound
	}
	return copyRecord(r), nil
}

// List returns up to f.Limit matching records ordered by creation time,
// starting after f.Cursor.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	matched := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	less := func(a, b *Record) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TransactionID < b.TransactionID
	}
	sort.Slice(matched, func(i, j int) bool {
		if f.Ascending {
			return less(matched[i], matched[j])
		}
		return less(matched[j], matched[i])
	})

	out := make([]*Record, 0, min(len(matched), max(f.Limit, 0)))
	for _, r := range matched {
		if f.Cursor != nil && !afterCursor(r, f.Cursor, f.Ascending) {
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func afterCursor(r *Record, c *pagination.Cursor, ascending bool) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		if ascending {
			return r.TransactionID > c.ID
		}
		return r.TransactionID < c.ID
	}
	if ascending {
		return r.CreatedAt.After(c.CreatedAt)
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

// Count returns the number of records matching f's status and user.
// Limit and Cursor are ignored.
func (s *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if f.matches(r) {
			n++
		}
	}
	return n, nil
}

// UpdateReview applies a reviewer decision. Notes are appended to the
// record's reasons.
func (s *MemoryStore) UpdateReview(_ context.Context, transactionID string, u ReviewUpdate) (*Record, error) {
	if !u.Status.IsReviewable() {
		return nil, risk.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[transactionID]
	if !ok {
		return nil, risk.ErrNotFound
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	r.Status = u.Status
	r.ReviewedBy = u.ReviewedBy
	r.ReviewedAt = &at
	r.UpdatedAt = at
	if notes := strings.TrimSpace(u.Notes); notes != "" {
		r.Reasons = append(r.Reasons, notes)
	}
	return copyRecord(r), nil
}

// Summary aggregates records created at or after since. A zero since
// covers everything.
func (s *MemoryStore) Summary(_ context.Context, since time.Time) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{TotalAmount: decimal.Zero}
	merchants := make(map[string]int)
	scoreTotal := 0
	for _, r := range s.records {
		if r.CreatedAt.Before(since) {
			continue
		}
		sum.TotalTransactions++
		sum.TotalAmount = sum.TotalAmount.Add(r.Amount)
		scoreTotal += r.RiskScore
		switch r.Status {
		case risk.StatusFraud:
			sum.FraudDetected++
			merchants[r.Merchant]++
		case risk.StatusSafe:
			sum.SafeTransactions++
		case risk.StatusUnderReview:
			sum.UnderReview++
		}
		sum.RiskDistribution[bucket(r.RiskScore)]++
	}

	if sum.TotalTransactions > 0 {
		sum.DetectionRate = round2(float64(sum.FraudDetected) / float64(sum.TotalTransactions) * 100)
		sum.AverageRiskScore = round2(float64(scoreTotal) / float64(sum.TotalTransactions))
	}

	for m, c := range merchants {
		sum.TopFraudMerchants = append(sum.TopFraudMerchants, MerchantCount{Merchant: m, Count: c})
	}
	sort.Slice(sum.TopFraudMerchants, func(i, j int) bool {
		a, b := sum.TopFraudMerchants[i], sum.TopFraudMerchants[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Merchant < b.Merchant
	})
	if len(sum.TopFraudMerchants) > 10 {
		sum.TopFraudMerchants = sum.TopFraudMerchants[:10]
	}
	return sum, nil
}

// CountRecent implements risk.HistorySource over stored transactions: it
// counts records from the actor or the address created within the window
// ending at q.At, plus the transaction being evaluated. Caller-supplied
// submission times play no part.
//
// Unlike the in-process tracker, the count and the later Save are not
// atomic, so simultaneous submissions may each miss the other.
func (s *MemoryStore) CountRecent(_ context.Context, q risk.HistoryQuery) (int, error) {
	cutoff := q.At.Add(-q.Window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.TransactionID == q.EventID {
			continue
		}
		if r.CreatedAt.Before(cutoff) || r.CreatedAt.After(q.At) {
			continue
		}
		sameActor := q.ActorID != "" && strings.EqualFold(r.ActorID, q.ActorID)
		sameAddr := q.SourceAddress != "" && r.SourceAddress == q.SourceAddress
		if sameActor || sameAddr {
			n++
		}
	}
	return n + 1, nil
}

func bucket(score int) int {
	switch {
	case score < 25:
		return 0
	case score < 50:
		return 1
	case score < 75:
		return 2
	default:
		return 3
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Reasons = append([]string(nil), r.Reasons...)
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}
