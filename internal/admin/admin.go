// Package admin provides operator endpoints for managing fraud signals:
// blacklists, flagged IP addresses, the fraud graph and reporting.
package admin

import (
	"context"
	"time"

	"github.com/mbd888/fraudwatch/internal/graph"
	"github.com/mbd888/fraudwatch/internal/realtime"
	"github.com/mbd888/fraudwatch/internal/review"
	"github.com/mbd888/fraudwatch/internal/risk"
	"github.com/mbd888/fraudwatch/internal/txstore"
)

// FraudGraph is the read side of the engine's fraud graph.
type FraudGraph interface {
	GraphStats() graph.Stats
	FraudRings() [][]string
	AreActorsLinked(a, b string) bool
	ActorRing(actor string) []string
}

// NetworkAdmin manages IP network records.
type NetworkAdmin interface {
	Flag(address, reason string) risk.NetworkRecord
	Unflag(address string) (risk.NetworkRecord, error)
	Get(address string) (risk.NetworkRecord, error)
	List(flaggedOnly bool) []risk.NetworkRecord
}

// AnalyticsSource aggregates stored transactions.
type AnalyticsSource interface {
	Summary(ctx context.Context, since time.Time) (txstore.Summary, error)
}

// QueueSource lists the review queue.
type QueueSource interface {
	PendingReviews() []review.Entry
}

// Announcer pushes operator messages to connected dashboards.
type Announcer interface {
	Announce(message, level string)
	Stats() realtime.Stats
}

// BlacklistRequest is the body of POST /admin/blacklist.
type BlacklistRequest struct {
	Type  string `json:"type" validate:"required,oneof=user users ip ips instrument instruments card cards merchant merchants"`
	Value string `json:"value" validate:"required,max=256"`
}

// FlagRequest is the body of POST /admin/networks/:ip/flag.
type FlagRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// BroadcastRequest is the body of POST /admin/broadcast.
type BroadcastRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
	Level   string `json:"level" validate:"omitempty,oneof=info warning critical"`
}

// SystemStatus is the response of GET /admin/system-status.
type SystemStatus struct {
	Uptime       string          `json:"uptime"`
	Transactions txstore.Summary `json:"transactions"`
	Queue        QueueStatus     `json:"reviewQueue"`
	Graph        graph.Stats     `json:"fraudGraph"`
	Blacklist    map[string]int  `json:"blacklist"`
	Realtime     *realtime.Stats `json:"realtime,omitempty"`
	Alerts       map[string]int  `json:"alerts"`
}

// QueueStatus summarizes the review queue.
type QueueStatus struct {
	Size        int `json:"size"`
	HighestRisk int `json:"highestRisk"`
}

// periods accepted by ?period= on reporting endpoints.
var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// sinceFor resolves a period to a start time. "all" and unknown periods
// return the zero time.
func sinceFor(period string, now time.Time) time.Time {
	if d, ok := periods[period]; ok {
		return now.Add(-d)
	}
	return time.Time{}
}
