// Package risk implements real-time fraud risk scoring for transactions.
//
// Every transaction is evaluated against six independent heuristics:
// blacklist, amount, velocity, IP network, location and time of day. Their
// non-negative contributions are summed and capped into a 0-100 score, which
// maps to SAFE, UNDER_REVIEW or FRAUD through two thresholds. Heuristics never
// short-circuit each other, so the reason list is exhaustive.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the verdict derived from a risk score.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusSafe        Status = "SAFE"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusFraud       Status = "FRAUD"
)

// NeedsReview reports whether transactions with this status go to the
// review queue.
func (s Status) NeedsReview() bool {
	return s == StatusUnderReview || s == StatusFraud
}

// IsReviewable reports whether s is a status a reviewer may assign.
func (s Status) IsReviewable() bool {
	return s == StatusSafe || s == StatusUnderReview || s == StatusFraud
}

// Default engine settings.
const (
	DefaultHighThreshold   = 75
	DefaultMediumThreshold = 50
	DefaultVelocityWindow  = 5 * time.Minute
	DefaultVelocityMax     = 5

	MaxScore = 100
)

// DefaultHighRiskLocations are matched case-insensitively as substrings.
var DefaultHighRiskLocations = []string{"unknown", "anonymous", "vpn"}

// Factor names used as keys in Assessment.Factors.
const (
	FactorBlacklist = "blacklist"
	FactorAmount    = "amount"
	FactorVelocity  = "velocity"
	FactorNetwork   = "network"
	FactorLocation  = "location"
	FactorTime      = "time"
)

// Factors lists every heuristic in evaluation order.
var Factors = []string{FactorBlacklist, FactorAmount, FactorVelocity, FactorNetwork, FactorLocation, FactorTime}

var (
	ErrInvalidInput         = errors.New("risk: invalid input")
	ErrNotFound             = errors.New("risk: not found")
	ErrDuplicateTransaction = errors.New("risk: duplicate transaction")
	ErrInvalidStatus        = errors.New("risk: invalid status")
)

// Transaction carries the data needed to score a transaction.
type Transaction struct {
	TransactionID     string          `json:"transactionId"`
	ActorID           string          `json:"userId"`
	Amount            decimal.Decimal `json:"amount"`
	Merchant          string          `json:"merchant"`
	Location          string          `json:"location"`
	SourceAddress     string          `json:"ipAddress"`
	Channel           string          `json:"channel,omitempty"`
	PaymentInstrument string          `json:"paymentInstrument,omitempty"`
	SubmittedAt       time.Time       `json:"submittedAt,omitempty"`
}

// FactorResult is one heuristic's contribution.
type FactorResult struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Assessment is the result of evaluating a single transaction. It is never
// mutated after Analyze returns.
type Assessment struct {
	ID            string                  `json:"id"`
	TransactionID string                  `json:"transactionId"`
	ActorID       string                  `json:"userId"`
	RiskScore     int                     `json:"riskScore"`
	Status        Status                  `json:"status"`
	Reasons       []string                `json:"fraudReasons"`
	Factors       map[string]FactorResult `json:"analysis"`
	EvaluatedAt   time.Time               `json:"evaluatedAt"`
}

// HistoryQuery asks how many transactions touched an actor or address
// within a window ending at At.
type HistoryQuery struct {
	ActorID       string
	SourceAddress string
	EventID       string
	At            time.Time
	Window        time.Duration
}

// HistorySource answers velocity queries. The returned count includes the
// transaction being evaluated.
type HistorySource interface {
	CountRecent(ctx context.Context, q HistoryQuery) (int, error)
}

// NetworkRecord describes everything known about one source address.
type NetworkRecord struct {
	Address          string    `json:"ipAddress"`
	LinkedActors     []string  `json:"linkedUserIds"`
	Flagged          bool      `json:"isFlagged"`
	FlagReason       string    `json:"flagReason,omitempty"`
	TransactionCount int       `json:"transactionCount"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
}

// NetworkRegistry tracks source addresses. Touch finds or creates the
// record for address, links actorID to it and counts the transaction.
type NetworkRegistry interface {
	Touch(ctx context.Context, address, actorID, txID string) (NetworkRecord, error)
}

// Config holds the engine's tunables.
type Config struct {
	HighThreshold     int
	MediumThreshold   int
	VelocityWindow    time.Duration
	VelocityMax       int
	HighRiskLocations []string
	// Location is the time zone used for the time-of-day heuristic.
	Location *time.Location
}

// DefaultConfig returns the stock thresholds and windows.
func DefaultConfig() Config {
	return Config{
		HighThreshold:     DefaultHighThreshold,
		MediumThreshold:   DefaultMediumThreshold,
		VelocityWindow:    DefaultVelocityWindow,
		VelocityMax:       DefaultVelocityMax,
		HighRiskLocations: DefaultHighRiskLocations,
		Location:          time.Local,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HighThreshold == 0 && c.MediumThreshold == 0 {
		c.HighThreshold, c.MediumThreshold = d.HighThreshold, d.MediumThreshold
	}
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = d.VelocityWindow
	}
	if c.VelocityMax == 0 {
		c.VelocityMax = d.VelocityMax
	}
	if c.HighRiskLocations == nil {
		c.HighRiskLocations = d.HighRiskLocations
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// Classify maps a score to a status. It depends on nothing but the score
// and the two thresholds.
func (c Config) Classify(score int) Status {
	switch {
	case score >= c.HighThreshold:
		return StatusFraud
	case score >= c.MediumThreshold:
		return StatusUnderReview
	default:
		return StatusSafe
	}
}
