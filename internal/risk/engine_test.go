package risk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudwatch/internal/blacklist"
	"github.com/mbd888/fraudwatch/internal/circuitbreaker"
	"github.com/mbd888/fraudwatch/internal/validation"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return NewEngine(cfg).WithClock(func() time.Time { return noon })
}

// newClockedEngine returns an engine whose clock the test advances.
func newClockedEngine() (*Engine, *time.Time) {
	now := noon
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return NewEngine(cfg).WithClock(func() time.Time { return now }), &now
}

func txn(id, actor, ip string, amount int64) *Transaction {
	return &Transaction{
		TransactionID: id,
		ActorID:       actor,
		Amount:        decimal.NewFromInt(amount),
		Merchant:      "Corner Store",
		Location:      "New York, US",
		SourceAddress: ip,
		Channel:       "Web App",
	}
}

func mustAnalyze(t *testing.T, e *Engine, tx *Transaction) *Assessment {
	t.Helper()
	a, err := e.Analyze(context.Background(), tx)
	if err != nil {
		t.Fatalf("Analyze(%s): %v", tx.TransactionID, err)
	}
	return a
}

func hasReason(a *Assessment, substr string) bool {
	for _, r := range a.Reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestBenignFirstTransactionIsSafe(t *testing.T) {
	e := newTestEngine()
	a := mustAnalyze(t, e, txn("tx1", "alice@example.com", "10.0.0.1", 50))

	if a.RiskScore != 0 {
		t.Errorf("expected score 0, got %d (reasons %v)", a.RiskScore, a.Reasons)
	}
	if a.Status != StatusSafe {
		t.Errorf("expected SAFE, got %s", a.Status)
	}
	if len(a.Reasons) != 0 {
		t.Errorf("expected no reasons, got %v", a.Reasons)
	}
	for _, name := range Factors {
		if _, ok := a.Factors[name]; !ok {
			t.Errorf("missing factor %s in breakdown", name)
		}
	}
	if a.ID == "" || a.TransactionID != "tx1" {
		t.Errorf("unexpected identity fields: %+v", a)
	}
}

func TestHighAmount(t *testing.T) {
	e := newTestEngine()
	a := mustAnalyze(t, e, txn("tx1", "alice@example.com", "10.0.0.1", 15000))

	if a.RiskScore < ScoreAmountVeryHigh {
		t.Errorf("expected at least %d, got %d", ScoreAmountVeryHigh, a.RiskScore)
	}
	if got := a.Factors[FactorAmount].Score; got != ScoreAmountVeryHigh {
		t.Errorf("amount factor = %d, want %d", got, ScoreAmountVeryHigh)
	}
	if !hasReason(a, "Unusually high transaction amount") {
		t.Errorf("missing amount reason: %v", a.Reasons)
	}
}

func TestBlacklistedUser(t *testing.T) {
	e := newTestEngine()
	e.Blacklist().Add(blacklist.KindUser, "Mallory@Example.com")

	a := mustAnalyze(t, e, txn("tx1", "mallory@example.com", "10.0.0.1", 50))
	if a.RiskScore < ScoreBlacklisted {
		t.Errorf("expected at least %d, got %d", ScoreBlacklisted, a.RiskScore)
	}
	if !a.Status.NeedsReview() {
		t.Errorf("expected review status, got %s", a.Status)
	}
	if !hasReason(a, "User is blacklisted") {
		t.Errorf("missing blacklist reason: %v", a.Reasons)
	}
}

func TestBlacklistScoresOnceWithReasonPerMatch(t *testing.T) {
	e := newTestEngine()
	e.Blacklist().Add(blacklist.KindUser, "mallory@example.com")
	e.Blacklist().Add(blacklist.KindIP, "10.6.6.6")
	e.Blacklist().Add(blacklist.KindMerchant, "corner store")

	a := mustAnalyze(t, e, txn("tx1", "mallory@example.com", "10.6.6.6", 50))
	f := a.Factors[FactorBlacklist]
	if f.Score != ScoreBlacklisted {
		t.Errorf("blacklist factor = %d, want %d", f.Score, ScoreBlacklisted)
	}
	if len(f.Reasons) != 3 {
		t.Errorf("expected 3 blacklist reasons, got %v", f.Reasons)
	}
}

func TestVelocityLimitOnSixthTransaction(t *testing.T) {
	e := newTestEngine()
	var a *Assessment
	for i := 1; i <= 6; i++ {
		tx := txn(fmt.Sprintf("tx%d", i), "bob@example.com", "10.0.0.2", 50)
		tx.SubmittedAt = noon.Add(time.Duration(i) * time.Second)
		a = mustAnalyze(t, e, tx)
	}

	f := a.Factors[FactorVelocity]
	if f.Score != 40 {
		t.Errorf("velocity factor = %d, want 40 (reasons %v)", f.Score, f.Reasons)
	}
	if !hasReason(a, "6 transactions in 300s (velocity limit exceeded)") {
		t.Errorf("missing velocity reason: %v", a.Reasons)
	}
}

func TestVelocitySpacedBeyondWindow(t *testing.T) {
	e, now := newClockedEngine()
	for i := 0; i < 6; i++ {
		*now = noon.Add(time.Duration(i) * 10 * time.Minute)
		a := mustAnalyze(t, e, txn(fmt.Sprintf("tx%d", i), "bob@example.com", "10.0.0.2", 50))
		if got := a.Factors[FactorVelocity].Score; got != 0 {
			t.Fatalf("transaction %d: velocity factor = %d, want 0", i, got)
		}
	}
}

func TestVelocityIgnoresSuppliedTimestamps(t *testing.T) {
	e := newTestEngine()
	var a *Assessment
	for i := 0; i < 6; i++ {
		tx := txn(fmt.Sprintf("tx%d", i), "bob@example.com", "10.0.0.2", 50)
		tx.SubmittedAt = noon.Add(time.Duration(i) * 10 * time.Minute)
		a = mustAnalyze(t, e, tx)
	}
	if got := a.Factors[FactorVelocity].Score; got != 40 {
		t.Errorf("velocity factor = %d, want 40", got)
	}
}

func TestSharedAddressFraudRing(t *testing.T) {
	e, now := newClockedEngine()
	actors := make([]string, 6)
	var a *Assessment
	for i := range actors {
		actors[i] = fmt.Sprintf("user%d@example.com", i)
		// Spread past the velocity window so only the network factor moves.
		*now = noon.Add(time.Duration(i) * 10 * time.Minute)
		a = mustAnalyze(t, e, txn(fmt.Sprintf("tx%d", i), actors[i], "203.0.113.7", 50))
	}

	f := a.Factors[FactorNetwork]
	if f.Score != ScoreSharedAddress {
		t.Errorf("network factor = %d, want %d (reasons %v)", f.Score, ScoreSharedAddress, f.Reasons)
	}
	if !hasReason(a, "IP shared by 6 users (potential fraud ring)") {
		t.Errorf("missing fraud ring reason: %v", a.Reasons)
	}

	for i := range actors {
		for j := range actors {
			if !e.AreActorsLinked(actors[i], actors[j]) {
				t.Errorf("%s and %s should be linked", actors[i], actors[j])
			}
		}
	}
	if e.AreActorsLinked(actors[0], "stranger@example.com") {
		t.Error("unknown actor should not be linked")
	}

	stats := e.GraphStats()
	if stats.Rings != 1 || stats.LargestRing != 6 {
		t.Errorf("unexpected graph stats %+v", stats)
	}
	if got := len(e.ActorRing(actors[3])); got != 6 {
		t.Errorf("ActorRing size = %d, want 6", got)
	}
}

func TestFlaggedAddress(t *testing.T) {
	nets := NewMemoryNetworks()
	nets.Flag("198.51.100.9", "chargeback source")
	e := newTestEngine().WithNetworkRegistry(nets)

	a := mustAnalyze(t, e, txn("tx1", "carol@example.com", "198.51.100.9", 50))
	if got := a.Factors[FactorNetwork].Score; got != ScoreFlaggedAddress {
		t.Errorf("network factor = %d, want %d", got, ScoreFlaggedAddress)
	}
	if !hasReason(a, "IP address flagged: chargeback source") {
		t.Errorf("missing flag reason: %v", a.Reasons)
	}
}

func TestTimeOfDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		name      string
		clock     time.Time
		zone      *time.Location
		submitted time.Time
		want      int
	}{
		// 03:30 for the submitter, 18:30 on the server.
		{"supplied hour as sent", noon, time.UTC, time.Date(2026, 3, 10, 3, 30, 0, 0, tokyo), ScoreUnusualHour},
		// 12:30 for the submitter, 03:30 on the server.
		{"supplied daytime not converted", noon, time.UTC, time.Date(2026, 3, 10, 12, 30, 0, 0, tokyo), 0},
		{"defaulted time uses configured zone", time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC), tokyo, time.Time{}, ScoreUnusualHour},
		{"defaulted daytime", noon, time.UTC, time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Location = tt.zone
			clock := tt.clock
			e := NewEngine(cfg).WithClock(func() time.Time { return clock })

			tx := txn("tx1", "zoe@example.com", "10.0.0.4", 50)
			tx.SubmittedAt = tt.submitted
			a := mustAnalyze(t, e, tx)
			if got := a.Factors[FactorTime].Score; got != tt.want {
				t.Errorf("time factor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAllHeuristicsRunAndScoreIsCapped(t *testing.T) {
	e := newTestEngine()
	e.Blacklist().Add(blacklist.KindUser, "mallory@example.com")

	tx := txn("tx1", "mallory@example.com", "10.0.0.3", 20000)
	tx.Location = "Anonymous VPN exit"
	tx.SubmittedAt = time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)

	a := mustAnalyze(t, e, tx)
	if a.RiskScore != MaxScore {
		t.Errorf("expected capped score %d, got %d", MaxScore, a.RiskScore)
	}
	if a.Status != StatusFraud {
		t.Errorf("expected FRAUD, got %s", a.Status)
	}
	for _, want := range []string{
		"User is blacklisted",
		"Unusually high transaction amount",
		"Transaction from high-risk location",
		"Transaction during unusual hours",
	} {
		if !hasReason(a, want) {
			t.Errorf("missing reason %q in %v", want, a.Reasons)
		}
	}
}

type failingHistory struct{}

func (failingHistory) CountRecent(context.Context, HistoryQuery) (int, error) {
	return 0, errors.New("store offline")
}

type panickingRegistry struct{}

func (panickingRegistry) Touch(context.Context, string, string, string) (NetworkRecord, error) {
	panic("corrupt index")
}

func TestFailingCollaboratorsDegradeGracefully(t *testing.T) {
	e := newTestEngine().
		WithHistory(failingHistory{}).
		WithNetworkRegistry(panickingRegistry{})

	a := mustAnalyze(t, e, txn("tx1", "dave@example.com", "10.0.0.4", 15000))

	if a.Factors[FactorVelocity].Score != 0 || a.Factors[FactorNetwork].Score != 0 {
		t.Errorf("failed heuristics must contribute 0: %+v", a.Factors)
	}
	if !hasReason(a, "velocity heuristic unavailable") {
		t.Errorf("missing velocity unavailable reason: %v", a.Reasons)
	}
	if !hasReason(a, "network heuristic unavailable") {
		t.Errorf("missing network unavailable reason: %v", a.Reasons)
	}
	if a.Factors[FactorAmount].Score != ScoreAmountVeryHigh {
		t.Errorf("amount heuristic should still run, got %d", a.Factors[FactorAmount].Score)
	}
}

type flakyHistory struct {
	calls int
	fail  bool
}

func (h *flakyHistory) CountRecent(context.Context, HistoryQuery) (int, error) {
	h.calls++
	if h.fail {
		return 0, errors.New("store offline")
	}
	return 1, nil
}

func TestBreakerSkipsFailingHistory(t *testing.T) {
	clock := noon
	hist := &flakyHistory{fail: true}
	e := newTestEngine().
		WithHistory(hist).
		WithBreaker(circuitbreaker.New(2, time.Minute).WithClock(func() time.Time { return clock }))

	for i := 0; i < 4; i++ {
		a := mustAnalyze(t, e, txn(fmt.Sprintf("tx%d", i), "erin@example.com", "10.0.0.5", 50))
		if !hasReason(a, "velocity heuristic unavailable") {
			t.Fatalf("tx%d: expected velocity unavailable, got %v", i, a.Reasons)
		}
	}
	if hist.calls != 2 {
		t.Errorf("open circuit should stop calls to the history source, got %d calls", hist.calls)
	}
	if st := e.HealthCheck(context.Background()); !strings.Contains(st.Detail, "degraded=velocity") {
		t.Errorf("health detail should name the open circuit, got %q", st.Detail)
	}

	hist.fail = false
	clock = clock.Add(time.Minute)
	a := mustAnalyze(t, e, txn("tx-recovered", "erin@example.com", "10.0.0.5", 50))
	if hasReason(a, "velocity heuristic unavailable") {
		t.Errorf("transaction after recovery should score normally: %v", a.Reasons)
	}
	if st := e.HealthCheck(context.Background()); strings.Contains(st.Detail, "degraded") {
		t.Errorf("circuit should close after a successful trial call, got %q", st.Detail)
	}
}

func TestInvalidInputRejected(t *testing.T) {
	e := newTestEngine()

	if _, err := e.Analyze(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil transaction: expected ErrInvalidInput, got %v", err)
	}

	tx := txn("", "", "10.0.0.1", -5)
	_, err := e.Analyze(context.Background(), tx)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var verrs validation.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors in chain, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 field errors, got %v", verrs)
	}

	if e.GraphStats().Vertices != 0 {
		t.Error("invalid input must not touch engine state")
	}
}

func TestClassifyIsPureFunctionOfScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score int
		want  Status
	}{
		{0, StatusSafe},
		{49, StatusSafe},
		{50, StatusUnderReview},
		{74, StatusUnderReview},
		{75, StatusFraud},
		{100, StatusFraud},
	}
	for _, tt := range tests {
		if got := cfg.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestScoreAlwaysInRange(t *testing.T) {
	e := newTestEngine()
	e.Blacklist().Add(blacklist.KindIP, "10.9.9.9")
	r := rand.New(rand.NewSource(42))
	locations := []string{"Paris", "unknown", "VPN node", "Berlin"}
	ips := []string{"10.9.9.9", "10.0.0.1", "10.0.0.2"}

	for i := 0; i < 300; i++ {
		tx := txn(fmt.Sprintf("tx%d", i), fmt.Sprintf("u%d@example.com", r.Intn(10)), ips[r.Intn(len(ips))], int64(r.Intn(20000)))
		tx.Location = locations[r.Intn(len(locations))]
		tx.SubmittedAt = noon.Add(time.Duration(r.Intn(86400)) * time.Second)
		a := mustAnalyze(t, e, tx)
		if a.RiskScore < 0 || a.RiskScore > MaxScore {
			t.Fatalf("score %d out of range", a.RiskScore)
		}
		if a.Status != e.Config().Classify(a.RiskScore) {
			t.Fatalf("status %s does not match score %d", a.Status, a.RiskScore)
		}
	}
}

func TestReviewQueueSurface(t *testing.T) {
	e := newTestEngine()

	if e.EnqueueForReview(&Assessment{Status: StatusSafe, RiskScore: 10}, "safe") {
		t.Error("SAFE assessments must not be queued")
	}
	e.EnqueueForReview(&Assessment{Status: StatusUnderReview, RiskScore: 55}, "mid")
	e.EnqueueForReview(&Assessment{Status: StatusFraud, RiskScore: 95}, "top")
	e.EnqueueForReview(&Assessment{Status: StatusUnderReview, RiskScore: 60}, "next")

	if peek, ok := e.PeekNextForReview(); !ok || peek.TransactionRef != "top" {
		t.Errorf("peek = %+v, %v", peek, ok)
	}
	if got := len(e.PendingReviews()); got != 3 {
		t.Errorf("pending = %d, want 3", got)
	}

	var order []string
	for {
		entry, ok := e.NextForReview()
		if !ok {
			break
		}
		order = append(order, entry.TransactionRef)
	}
	if strings.Join(order, ",") != "top,next,mid" {
		t.Errorf("dequeue order = %v", order)
	}
}

func TestConcurrentAnalyzeCountsEveryTransaction(t *testing.T) {
	e := newTestEngine()
	const n = 50

	var wg sync.WaitGroup
	scores := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := e.Analyze(context.Background(), txn(fmt.Sprintf("tx%d", i), "eve@example.com", "10.0.0.5", 50))
			if err != nil {
				t.Errorf("Analyze: %v", err)
				return
			}
			scores[i] = a.Factors[FactorVelocity].Score
		}(i)
	}
	wg.Wait()

	limited := 0
	for _, s := range scores {
		if s == 40 {
			limited++
		}
	}
	// Counts 5..50 hit the limit; no two callers can observe the same count.
	if limited != n-4 {
		t.Errorf("expected %d limited transactions, got %d", n-4, limited)
	}
}

func TestMetricsSnapshotAndHealth(t *testing.T) {
	e := newTestEngine()
	e.Blacklist().Add(blacklist.KindUser, "x@example.com")
	mustAnalyze(t, e, txn("tx1", "a@example.com", "10.1.1.1", 50))
	mustAnalyze(t, e, txn("tx2", "b@example.com", "10.1.1.1", 50))

	snap := e.MetricsSnapshot()
	if snap.GraphVertices != 2 || snap.Rings != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Blacklist["user"] != 1 {
		t.Errorf("blacklist user count = %d", snap.Blacklist["user"])
	}

	st := e.HealthCheck(context.Background())
	if !st.Healthy || st.Name != "engine" {
		t.Errorf("unexpected health %+v", st)
	}
}
