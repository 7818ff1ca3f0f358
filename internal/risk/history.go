package risk

import (
	"context"
	"time"

	"github.com/mbd888/fraudwatch/internal/velocity"
)

// TrackerHistory answers velocity queries from an in-process sliding-window
// tracker. Each query records the event under the actor and the address and
// returns the distinct count across both windows.
type TrackerHistory struct {
	Tracker *velocity.Tracker
}

// NewTrackerHistory wraps a fresh tracker.
func NewTrackerHistory() *TrackerHistory {
	return &TrackerHistory{Tracker: velocity.New()}
}

// CountRecent implements HistorySource.
func (h *TrackerHistory) CountRecent(_ context.Context, q HistoryQuery) (int, error) {
	return h.Tracker.RecordAndCount(historyKeys(q), q.EventID, q.At, q.Window), nil
}

// Prune drops idle windows.
func (h *TrackerHistory) Prune(now time.Time, window time.Duration) int {
	return h.Tracker.Prune(now, window)
}

func historyKeys(q HistoryQuery) []string {
	keys := make([]string, 0, 2)
	if q.ActorID != "" {
		keys = append(keys, "actor:"+q.ActorID)
	}
	if q.SourceAddress != "" {
		keys = append(keys, "ip:"+q.SourceAddress)
	}
	return keys
}
