package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Heuristic scores.
const (
	ScoreBlacklisted    = 50
	ScoreAmountVeryHigh = 30
	ScoreAmountHigh     = 15
	ScoreAmountLow      = 10
	ScoreFlaggedAddress = 35
	ScoreSharedAddress  = 25
	ScoreBusyAddress    = 15
	ScoreHighRiskPlace  = 20
	ScoreUnusualHour    = 10
)

const (
	sharedAddressActors = 5
	busyAddressTxnCount = 50
	unusualHourFirst    = 2
	unusualHourLast     = 5
)

type amountRule struct {
	match  func(decimal.Decimal) bool
	score  int
	reason string
}

var (
	tenThousand  = decimal.NewFromInt(10000)
	fiveThousand = decimal.NewFromInt(5000)
	one          = decimal.NewFromInt(1)
)

// amountRules are evaluated top to bottom; the first match applies.
var amountRules = []amountRule{
	{func(a decimal.Decimal) bool { return a.GreaterThan(tenThousand) }, ScoreAmountVeryHigh, "Unusually high transaction amount"},
	{func(a decimal.Decimal) bool { return a.GreaterThan(fiveThousand) }, ScoreAmountHigh, "High transaction amount"},
	{func(a decimal.Decimal) bool { return a.LessThan(one) }, ScoreAmountLow, "Suspiciously low amount"},
}

// ScoreAmount applies the amount bands.
func ScoreAmount(amount decimal.Decimal) FactorResult {
	for _, r := range amountRules {
		if r.match(amount) {
			return FactorResult{Score: r.score, Reasons: []string{r.reason}}
		}
	}
	return FactorResult{}
}

// ScoreLocation flags locations containing any high-risk token.
func ScoreLocation(location string, tokens []string) FactorResult {
	loc := strings.ToLower(location)
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(loc, t) {
			return FactorResult{Score: ScoreHighRiskPlace, Reasons: []string{"Transaction from high-risk location"}}
		}
	}
	return FactorResult{}
}

// ScoreTime flags transactions made between 02:00 and 05:59. With a nil loc
// the hour is read in at's own zone.
func ScoreTime(at time.Time, loc *time.Location) FactorResult {
	if loc != nil {
		at = at.In(loc)
	}
	if h := at.Hour(); h >= unusualHourFirst && h <= unusualHourLast {
		return FactorResult{Score: ScoreUnusualHour, Reasons: []string{"Transaction during unusual hours"}}
	}
	return FactorResult{}
}

// ScoreNetwork applies the address policy. The three conditions are
// independent and every matched reason is kept.
func ScoreNetwork(rec NetworkRecord) FactorResult {
	var r FactorResult
	if rec.Flagged {
		r.Score += ScoreFlaggedAddress
		reason := "IP address flagged"
		if rec.FlagReason != "" {
			reason += ": " + rec.FlagReason
		}
		r.Reasons = append(r.Reasons, reason)
	}
	if n := len(rec.LinkedActors); n > sharedAddressActors {
		r.Score += ScoreSharedAddress
		r.Reasons = append(r.Reasons, fmt.Sprintf("IP shared by %d users (potential fraud ring)", n))
	}
	if rec.TransactionCount > busyAddressTxnCount {
		r.Score += ScoreBusyAddress
		r.Reasons = append(r.Reasons, fmt.Sprintf("High transaction count from IP: %d", rec.TransactionCount))
	}
	return r
}
