// Package transactions is the submission and manual-review workflow: it
// scores incoming transactions, stores them, queues risky ones for review
// and streams every outcome to connected dashboards.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudwatch/internal/logging"
	"github.com/mbd888/fraudwatch/internal/metrics"
	"github.com/mbd888/fraudwatch/internal/pagination"
	"github.com/mbd888/fraudwatch/internal/realtime"
	"github.com/mbd888/fraudwatch/internal/review"
	"github.com/mbd888/fraudwatch/internal/risk"
	"github.com/mbd888/fraudwatch/internal/syncutil"
	"github.com/mbd888/fraudwatch/internal/traces"
	"github.com/mbd888/fraudwatch/internal/txstore"
	"github.com/mbd888/fraudwatch/internal/validation"
)

// DefaultReviewer is recorded when a review names no reviewer.
const DefaultReviewer = "analyst"

// Publisher receives workflow events.
type Publisher interface {
	PublishTransaction(u realtime.TransactionUpdate)
	PublishFraudAlert(u realtime.TransactionUpdate)
	PublishReview(u realtime.TransactionUpdate)
}

// SubmitRequest is the body of POST /transactions/submit.
type SubmitRequest struct {
	TransactionID     string          `json:"transactionId" validate:"required,max=100"`
	UserID            string          `json:"userId" validate:"required,max=256"`
	Amount            decimal.Decimal `json:"amount"`
	Merchant          string          `json:"merchant" validate:"required,max=200"`
	Location          string          `json:"location" validate:"required,max=200"`
	IPAddress         string          `json:"ipAddress" validate:"required,ipv4like"`
	Channel           string          `json:"channel" validate:"omitempty,channel"`
	PaymentInstrument string          `json:"paymentInstrument" validate:"omitempty,max=100"`
	SubmittedAt       *time.Time      `json:"submittedAt"`
}

// Validate runs tag rules plus the amount check.
func (r *SubmitRequest) Validate() validation.ValidationErrors {
	errs := validation.Struct(r)
	errs = append(errs, validation.Validate(validation.NonNegativeAmount("amount", r.Amount))...)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (r *SubmitRequest) transaction() *risk.Transaction {
	tx := &risk.Transaction{
		TransactionID:     r.TransactionID,
		ActorID:           r.UserID,
		Amount:            r.Amount,
		Merchant:          validation.SanitizeString(r.Merchant, 200),
		Location:          validation.SanitizeString(r.Location, 200),
		SourceAddress:     r.IPAddress,
		Channel:           r.Channel,
		PaymentInstrument: r.PaymentInstrument,
	}
	if r.SubmittedAt != nil {
		tx.SubmittedAt = *r.SubmittedAt
	}
	return tx
}

// ReviewRequest is the body of PATCH /transactions/:id/review.
type ReviewRequest struct {
	Status     string `json:"status" validate:"required,oneof=SAFE UNDER_REVIEW FRAUD"`
	Notes      string `json:"notes" validate:"max=2000"`
	ReviewedBy string `json:"reviewedBy" validate:"max=100"`
}

// SubmitResult is a stored transaction with its full assessment.
type SubmitResult struct {
	Transaction *txstore.Record  `json:"transaction"`
	Analysis    *risk.Assessment `json:"analysis"`
}

// ListQuery selects a page of transactions.
type ListQuery struct {
	Status    risk.Status
	UserID    string
	Limit     int
	Cursor    string
	Ascending bool
}

// ListResult is one page of transactions.
type ListResult struct {
	Transactions []*txstore.Record `json:"transactions"`
	Pagination   pagination.Page   `json:"pagination"`
}

// QueuedTransaction pairs a dequeued review entry with its transaction.
type QueuedTransaction struct {
	Entry       review.Entry    `json:"queueEntry"`
	Transaction *txstore.Record `json:"transaction"`
}

// Service implements the transaction workflow.
type Service struct {
	engine *risk.Engine
	store  txstore.Store
	events Publisher
	logger *slog.Logger
	locks  syncutil.ShardedMutex
	now    func() time.Time
}

// NewService wires the workflow. events may be nil.
func NewService(engine *risk.Engine, store txstore.Store, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine: engine,
		store:  store,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Submit scores and stores a new transaction. Duplicate IDs are rejected
// before scoring so a retried request does not count twice toward
// velocity.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", risk.ErrInvalidInput, errs)
	}

	ctx, span := traces.StartSpan(ctx, "transactions.Submit",
		traces.TransactionID(req.TransactionID),
		traces.ActorID(req.UserID),
	)
	defer span.End()

	unlock := s.locks.Lock(req.TransactionID)
	defer unlock()

	if _, err := s.store.Get(ctx, req.TransactionID); err == nil {
		return nil, risk.ErrDuplicateTransaction
	} else if !errors.Is(err, risk.ErrNotFound) {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	tx := req.transaction()
	assessment, err := s.engine.Analyze(ctx, tx)
	if err != nil {
		traces.Fail(ctx, err)
		return nil, err
	}

	rec := txstore.NewRecord(tx, assessment)
	if err := s.store.Save(ctx, rec); err != nil {
		traces.Fail(ctx, err)
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	queued := s.engine.EnqueueForReview(assessment, rec.TransactionID)

	update := toUpdate(rec)
	if s.events != nil {
		s.events.PublishTransaction(update)
		if assessment.Status == risk.StatusFraud {
			s.events.PublishFraudAlert(update)
		}
	}

	span.SetAttributes(traces.RiskScore(assessment.RiskScore), traces.Status(string(assessment.Status)))
	logging.L(ctx).Info("transaction submitted",
		"user_id", rec.ActorID,
		"risk_score", rec.RiskScore,
		"status", rec.Status,
		"queued_for_review", queued,
	)
	if assessment.Status == risk.StatusFraud {
		logging.L(ctx).Warn("high-risk transaction detected", "reasons", assessment.Reasons)
	}

	return &SubmitResult{Transaction: rec, Analysis: assessment}, nil
}

// Get returns one stored transaction.
func (s *Service) Get(ctx context.Context, transactionID string) (*txstore.Record, error) {
	return s.store.Get(ctx, transactionID)
}

// List returns a page of transactions, newest first unless q.Ascending.
func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", risk.ErrInvalidInput, err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	filter := txstore.Filter{
		Status:    q.Status,
		ActorID:   q.UserID,
		Limit:     limit + 1,
		Cursor:    cursor,
		Ascending: q.Ascending,
	}

	recs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	recs, page := pagination.ComputePage(recs, limit, func(r *txstore.Record) (time.Time, string) {
		return r.CreatedAt, r.TransactionID
	})
	page.Total = total
	return &ListResult{Transactions: recs, Pagination: page}, nil
}

// Review records a reviewer decision on a stored transaction.
func (s *Service) Review(ctx context.Context, transactionID string, req *ReviewRequest) (*txstore.Record, error) {
	if errs := validation.Struct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", risk.ErrInvalidInput, errs)
	}
	reviewer := req.ReviewedBy
	if reviewer == "" {
		reviewer = DefaultReviewer
	}

	rec, err := s.store.UpdateReview(ctx, transactionID, txstore.ReviewUpdate{
		Status:     risk.Status(req.Status),
		Notes:      validation.SanitizeString(req.Notes, 2000),
		ReviewedBy: reviewer,
		At:         s.now(),
	})
	if err != nil {
		return nil, err
	}

	metrics.ReviewsTotal.WithLabelValues(string(rec.Status)).Inc()
	if s.events != nil {
		s.events.PublishReview(toUpdate(rec))
	}
	logging.L(logging.WithTransactionID(ctx, transactionID)).Info("transaction reviewed",
		"status", rec.Status,
		"reviewed_by", rec.ReviewedBy,
	)
	return rec, nil
}

// NextForReview pops the highest-risk queued transaction. Entries whose
// transaction was reviewed while queued are discarded. found is false when
// the queue is exhausted.
func (s *Service) NextForReview(ctx context.Context) (*QueuedTransaction, bool, error) {
	for {
		entry, ok := s.engine.NextForReview()
		if !ok {
			return nil, false, nil
		}
		rec, err := s.store.Get(ctx, entry.TransactionRef)
		if errors.Is(err, risk.ErrNotFound) {
			s.logger.Warn("queued transaction missing from store", "transaction_id", entry.TransactionRef)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if rec.ReviewedAt != nil {
			continue
		}
		return &QueuedTransaction{Entry: entry, Transaction: rec}, true, nil
	}
}

// PendingReviews lists queued entries, highest risk first.
func (s *Service) PendingReviews() []review.Entry {
	return s.engine.PendingReviews()
}

// Summary aggregates stored transactions since the given time.
func (s *Service) Summary(ctx context.Context, since time.Time) (txstore.Summary, error) {
	return s.store.Summary(ctx, since)
}

func toUpdate(r *txstore.Record) realtime.TransactionUpdate {
	return realtime.TransactionUpdate{
		TransactionID: r.TransactionID,
		ActorID:       r.ActorID,
		Amount:        r.Amount.StringFixed(2),
		Merchant:      r.Merchant,
		RiskScore:     r.RiskScore,
		Status:        string(r.Status),
		Reasons:       r.Reasons,
		ReviewedBy:    r.ReviewedBy,
	}
}
