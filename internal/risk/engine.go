package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/fraudwatch/internal/blacklist"
	"github.com/mbd888/fraudwatch/internal/circuitbreaker"
	"github.com/mbd888/fraudwatch/internal/graph"
	"github.com/mbd888/fraudwatch/internal/health"
	"github.com/mbd888/fraudwatch/internal/logging"
	"github.com/mbd888/fraudwatch/internal/metrics"
	"github.com/mbd888/fraudwatch/internal/review"
	"github.com/mbd888/fraudwatch/internal/traces"
	"github.com/mbd888/fraudwatch/internal/validation"
	"github.com/mbd888/fraudwatch/internal/velocity"
)

var (
	errNoHistory  = errors.New("no history source configured")
	errNoRegistry = errors.New("no network registry configured")
	errCircuit    = errors.New("circuit open")
)

// Engine scores transactions. Each owned structure is locked independently;
// Analyze is safe for concurrent use.
type Engine struct {
	cfg       Config
	blacklist *blacklist.Index
	graph     *graph.Graph
	queue     *review.Queue
	history   HistorySource
	networks  NetworkRegistry
	breaker   *circuitbreaker.Breaker
	now       func() time.Time
}

// NewEngine creates an engine with empty structures, an in-process velocity
// tracker and an in-memory network registry.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		blacklist: blacklist.New(),
		graph:     graph.New(),
		queue:     review.NewQueue(),
		history:   NewTrackerHistory(),
		networks:  NewMemoryNetworks(),
		breaker:   circuitbreaker.New(circuitbreaker.DefaultThreshold, circuitbreaker.DefaultOpenDuration),
		now:       time.Now,
	}
}

// WithHistory replaces the velocity history source.
func (e *Engine) WithHistory(h HistorySource) *Engine {
	e.history = h
	return e
}

// WithNetworkRegistry replaces the network registry.
func (e *Engine) WithNetworkRegistry(r NetworkRegistry) *Engine {
	e.networks = r
	return e
}

// WithBreaker replaces the circuit breaker guarding the history and
// network heuristics.
func (e *Engine) WithBreaker(b *circuitbreaker.Breaker) *Engine {
	e.breaker = b
	return e
}

// WithClock overrides the evaluation clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Analyze scores tx. It fails only on invalid input; a failing heuristic
// contributes zero and an "unavailable" reason instead.
func (e *Engine) Analyze(ctx context.Context, tx *Transaction) (*Assessment, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidInput)
	}
	if errs := validateTransaction(tx); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, errs)
	}

	start := time.Now()
	ctx = logging.WithTransactionID(ctx, tx.TransactionID)
	ctx, span := traces.StartSpan(ctx, "risk.Analyze",
		traces.TransactionID(tx.TransactionID),
		traces.ActorID(tx.ActorID),
		traces.Amount(tx.Amount.String()),
		traces.SourceAddress(tx.SourceAddress),
	)
	defer span.End()

	now := e.now()
	actor := actorKey(tx.ActorID)

	factors := make(map[string]FactorResult, len(Factors))
	factors[FactorBlacklist] = e.evaluate(ctx, FactorBlacklist, func() (FactorResult, error) {
		return e.scoreBlacklist(tx), nil
	})
	factors[FactorAmount] = e.evaluate(ctx, FactorAmount, func() (FactorResult, error) {
		return ScoreAmount(tx.Amount), nil
	})
	factors[FactorVelocity] = e.evaluate(ctx, FactorVelocity, e.guarded(FactorVelocity, func() (FactorResult, error) {
		return e.scoreVelocity(ctx, tx, actor, now)
	}))
	factors[FactorNetwork] = e.evaluate(ctx, FactorNetwork, e.guarded(FactorNetwork, func() (FactorResult, error) {
		return e.scoreNetwork(ctx, tx, actor)
	}))
	factors[FactorLocation] = e.evaluate(ctx, FactorLocation, func() (FactorResult, error) {
		return ScoreLocation(tx.Location, e.cfg.HighRiskLocations), nil
	})
	factors[FactorTime] = e.evaluate(ctx, FactorTime, func() (FactorResult, error) {
		if !tx.SubmittedAt.IsZero() {
			return ScoreTime(tx.SubmittedAt, nil), nil
		}
		return ScoreTime(now, e.cfg.Location), nil
	})

	score := 0
	reasons := []string{}
	for _, name := range Factors {
		f := factors[name]
		score += f.Score
		reasons = append(reasons, f.Reasons...)
	}
	if score > MaxScore {
		score = MaxScore
	}
	status := e.cfg.Classify(score)

	a := &Assessment{
		ID:            uuid.NewString(),
		TransactionID: tx.TransactionID,
		ActorID:       tx.ActorID,
		RiskScore:     score,
		Status:        status,
		Reasons:       reasons,
		Factors:       factors,
		EvaluatedAt:   now,
	}

	span.SetAttributes(traces.RiskScore(score), traces.Status(string(status)))
	metrics.AssessmentsTotal.WithLabelValues(string(status)).Inc()
	metrics.RiskScore.Observe(float64(score))
	metrics.AnalyzeDuration.Observe(time.Since(start).Seconds())
	logging.L(ctx).Info("transaction scored",
		"actor_id", tx.ActorID,
		"risk_score", score,
		"status", status,
		"reasons", len(reasons),
	)
	return a, nil
}

// evaluate runs one heuristic in isolation. Errors and panics degrade it to
// a zero contribution.
func (e *Engine) evaluate(ctx context.Context, name string, fn func() (FactorResult, error)) (res FactorResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("heuristic panicked", "heuristic", name, "panic", r)
			traces.Degraded(ctx, name, fmt.Sprint(r))
			res = unavailable(name)
		}
	}()

	r, err := fn()
	if err != nil {
		logging.L(ctx).Warn("heuristic unavailable", "heuristic", name, "error", err)
		traces.Degraded(ctx, name, err.Error())
		return unavailable(name)
	}
	if r.Score < 0 {
		r.Score = 0
	}
	return r
}

// guarded wraps a heuristic backed by an external source with the breaker.
// While the circuit is open the source is not called at all.
func (e *Engine) guarded(name string, fn func() (FactorResult, error)) func() (FactorResult, error) {
	return func() (FactorResult, error) {
		if !e.breaker.Allow(name) {
			return FactorResult{}, errCircuit
		}
		ok := false
		defer func() {
			if !ok {
				e.breaker.RecordFailure(name)
			}
		}()
		r, err := fn()
		if err == nil {
			ok = true
			e.breaker.RecordSuccess(name)
		}
		return r, err
	}
}

func unavailable(name string) FactorResult {
	metrics.HeuristicFailuresTotal.WithLabelValues(name).Inc()
	return FactorResult{Reasons: []string{name + " heuristic unavailable"}}
}

// scoreBlacklist awards the blacklist score once, with one reason per
// matching identifier.
func (e *Engine) scoreBlacklist(tx *Transaction) FactorResult {
	checks := []struct {
		kind   blacklist.Kind
		value  string
		reason string
	}{
		{blacklist.KindUser, tx.ActorID, "User is blacklisted"},
		{blacklist.KindIP, tx.SourceAddress, "IP address is blacklisted"},
		{blacklist.KindMerchant, tx.Merchant, "Merchant is blacklisted"},
		{blacklist.KindInstrument, tx.PaymentInstrument, "Payment instrument is blacklisted"},
	}

	var r FactorResult
	for _, c := range checks {
		if e.blacklist.Contains(c.kind, c.value) {
			r.Reasons = append(r.Reasons, c.reason)
		}
	}
	if len(r.Reasons) > 0 {
		r.Score = ScoreBlacklisted
	}
	return r
}

func (e *Engine) scoreVelocity(ctx context.Context, tx *Transaction, actor string, now time.Time) (FactorResult, error) {
	if e.history == nil {
		return FactorResult{}, errNoHistory
	}
	count, err := e.history.CountRecent(ctx, HistoryQuery{
		ActorID:       actor,
		SourceAddress: strings.TrimSpace(tx.SourceAddress),
		EventID:       tx.TransactionID,
		At:            now,
		Window:        e.cfg.VelocityWindow,
	})
	if err != nil {
		return FactorResult{}, fmt.Errorf("count recent transactions: %w", err)
	}

	v := velocity.Score(count, e.cfg.VelocityMax, e.cfg.VelocityWindow)
	r := FactorResult{Score: v.Score}
	if v.Reason != "" {
		r.Reasons = []string{v.Reason}
	}
	return r, nil
}

// scoreNetwork touches the address record, links the actor to every other
// actor seen from the same address, then applies the address policy.
func (e *Engine) scoreNetwork(ctx context.Context, tx *Transaction, actor string) (FactorResult, error) {
	addr := strings.TrimSpace(tx.SourceAddress)
	if addr == "" {
		return FactorResult{}, nil
	}
	if e.networks == nil {
		return FactorResult{}, errNoRegistry
	}

	rec, err := e.networks.Touch(ctx, addr, actor, tx.TransactionID)
	if err != nil {
		return FactorResult{}, fmt.Errorf("touch network %s: %w", addr, err)
	}

	e.graph.AddVertex(actor)
	for _, other := range rec.LinkedActors {
		if other != actor {
			e.graph.AddEdge(actor, other)
		}
	}
	return ScoreNetwork(rec), nil
}

func validateTransaction(tx *Transaction) validation.ValidationErrors {
	return validation.Validate(
		validation.Required("transactionId", tx.TransactionID),
		validation.Required("userId", tx.ActorID),
		validation.NonNegativeAmount("amount", tx.Amount),
		validation.MaxLength("merchant", tx.Merchant, validation.MaxStringLength),
		validation.MaxLength("location", tx.Location, validation.MaxStringLength),
	)
}

// actorKey normalizes actor IDs the same way the user blacklist does.
func actorKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// EnqueueForReview queues the transaction if its status needs review and
// reports whether it did.
func (e *Engine) EnqueueForReview(a *Assessment, transactionRef string) bool {
	if a == nil || !a.Status.NeedsReview() {
		return false
	}
	e.queue.Enqueue(review.Entry{
		TransactionRef: transactionRef,
		ActorID:        a.ActorID,
		RiskScore:      a.RiskScore,
		Status:         string(a.Status),
		EnqueuedAt:     e.now(),
	})
	metrics.ReviewQueueDepth.Set(float64(e.queue.Len()))
	return true
}

// NextForReview removes and returns the highest-risk queued transaction.
func (e *Engine) NextForReview() (review.Entry, bool) {
	entry, ok := e.queue.Dequeue()
	metrics.ReviewQueueDepth.Set(float64(e.queue.Len()))
	return entry, ok
}

// PeekNextForReview returns the highest-risk queued transaction without
// removing it.
func (e *Engine) PeekNextForReview() (review.Entry, bool) {
	return e.queue.Peek()
}

// PendingReviews lists the queue, highest risk first.
func (e *Engine) PendingReviews() []review.Entry {
	return e.queue.Snapshot()
}

// Blacklist exposes the blacklist index for administration.
func (e *Engine) Blacklist() *blacklist.Index {
	return e.blacklist
}

// GraphStats summarizes the fraud graph.
func (e *Engine) GraphStats() graph.Stats {
	return e.graph.Stats()
}

// AreActorsLinked reports whether two actors share a fraud ring.
func (e *Engine) AreActorsLinked(a, b string) bool {
	return e.graph.AreConnected(actorKey(a), actorKey(b))
}

// FraudRings lists every connected group of two or more actors.
func (e *Engine) FraudRings() [][]string {
	return e.graph.ConnectedComponents()
}

// ActorRing returns the actors linked to actor, including itself.
func (e *Engine) ActorRing(actor string) []string {
	return e.graph.Component(actorKey(actor))
}

// MetricsSnapshot implements metrics.EngineSource.
func (e *Engine) MetricsSnapshot() metrics.EngineSnapshot {
	stats := e.graph.Stats()
	counts := e.blacklist.Counts()
	return metrics.EngineSnapshot{
		QueueDepth:    e.queue.Len(),
		GraphVertices: stats.Vertices,
		Rings:         stats.Rings,
		Blacklist: map[string]int{
			string(blacklist.KindUser):       counts.Users,
			string(blacklist.KindIP):         counts.IPs,
			string(blacklist.KindInstrument): counts.Instruments,
			string(blacklist.KindMerchant):   counts.Merchants,
		},
	}
}

// HealthCheck reports engine state for the health registry.
func (e *Engine) HealthCheck(_ context.Context) health.Status {
	stats := e.graph.Stats()
	detail := fmt.Sprintf("queue=%d vertices=%d rings=%d",
		e.queue.Len(), stats.Vertices, stats.Rings)
	if open := e.breaker.Open(); len(open) > 0 {
		sort.Strings(open)
		detail += " degraded=" + strings.Join(open, ",")
	}
	// Degraded heuristics score zero; the engine still answers.
	return health.Status{
		Name:    "engine",
		Healthy: true,
		Detail:  detail,
	}
}

// StartMaintenance prunes idle velocity windows every interval. Call in a goroutine; exits when ctx is done.
func (e *Engine) StartMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if th, ok := e.history.(*TrackerHistory); ok {
				if n := th.Prune(e.now(), e.cfg.VelocityWindow); n > 0 {
					logging.L(ctx).Debug("pruned velocity windows", "keys", n)
				}
			}
		}
	}
}
