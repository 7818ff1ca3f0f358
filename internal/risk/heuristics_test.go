package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   int
	}{
		{"15000", ScoreAmountVeryHigh},
		{"10000.01", ScoreAmountVeryHigh},
		{"10000", ScoreAmountHigh},
		{"5000.01", ScoreAmountHigh},
		{"5000", 0},
		{"50", 0},
		{"1", 0},
		{"0.99", ScoreAmountLow},
		{"0", ScoreAmountLow},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := ScoreAmount(decimal.RequireFromString(tt.amount))
			assert.Equal(t, tt.want, got.Score)
			if tt.want == 0 {
				assert.Empty(t, got.Reasons)
			} else {
				assert.Len(t, got.Reasons, 1)
			}
		})
	}
}

func TestScoreLocation(t *testing.T) {
	assert.Equal(t, ScoreHighRiskPlace, ScoreLocation("UNKNOWN", DefaultHighRiskLocations).Score)
	assert.Equal(t, ScoreHighRiskPlace, ScoreLocation("via vpn, NL", DefaultHighRiskLocations).Score)
	assert.Equal(t, 0, ScoreLocation("Lagos, NG", DefaultHighRiskLocations).Score)
	assert.Equal(t, 0, ScoreLocation("anything", []string{"", "  "}).Score)
	assert.Equal(t, ScoreHighRiskPlace, ScoreLocation("Tor relay", []string{"TOR"}).Score)
}

func TestScoreTime(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		at := time.Date(2026, 1, 1, hour, 30, 0, 0, time.UTC)
		got := ScoreTime(at, time.UTC).Score
		if hour >= 2 && hour <= 5 {
			assert.Equal(t, ScoreUnusualHour, got, "hour %d", hour)
		} else {
			assert.Equal(t, 0, got, "hour %d", hour)
		}
	}

	// 01:30 UTC is 03:30 in a UTC+2 zone.
	zone := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, ScoreUnusualHour, ScoreTime(time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC), zone).Score)
}

func TestScoreNetworkIsAdditive(t *testing.T) {
	rec := NetworkRecord{
		Address:          "10.0.0.1",
		LinkedActors:     []string{"a", "b", "c", "d", "e", "f"},
		Flagged:          true,
		FlagReason:       "botnet",
		TransactionCount: 51,
	}
	got := ScoreNetwork(rec)
	assert.Equal(t, ScoreFlaggedAddress+ScoreSharedAddress+ScoreBusyAddress, got.Score)
	assert.Equal(t, []string{
		"IP address flagged: botnet",
		"IP shared by 6 users (potential fraud ring)",
		"High transaction count from IP: 51",
	}, got.Reasons)

	quiet := ScoreNetwork(NetworkRecord{LinkedActors: []string{"a", "b", "c", "d", "e"}, TransactionCount: 50})
	assert.Equal(t, 0, quiet.Score)
	assert.Empty(t, quiet.Reasons)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultHighThreshold, c.HighThreshold)
	assert.Equal(t, DefaultMediumThreshold, c.MediumThreshold)
	assert.Equal(t, DefaultVelocityWindow, c.VelocityWindow)
	assert.Equal(t, DefaultVelocityMax, c.VelocityMax)
	assert.Equal(t, DefaultHighRiskLocations, c.HighRiskLocations)
	assert.NotNil(t, c.Location)

	custom := Config{HighThreshold: 90, MediumThreshold: 60, VelocityMax: 3}.withDefaults()
	assert.Equal(t, 90, custom.HighThreshold)
	assert.Equal(t, 3, custom.VelocityMax)
}

func TestMemoryNetworks(t *testing.T) {
	m := NewMemoryNetworks()
	ctx := context.Background()

	rec, err := m.Touch(ctx, " 10.0.0.1 ", "alice", "tx1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", rec.Address)
	assert.Equal(t, []string{"alice"}, rec.LinkedActors)
	assert.Equal(t, 1, rec.TransactionCount)

	_, _ = m.Touch(ctx, "10.0.0.1", "alice", "tx2")
	rec, _ = m.Touch(ctx, "10.0.0.1", "bob", "tx3")
	assert.Equal(t, []string{"alice", "bob"}, rec.LinkedActors)
	assert.Equal(t, 3, rec.TransactionCount)

	// Returned records are copies.
	rec.LinkedActors[0] = "mutated"
	stored, err := m.Get("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.LinkedActors[0])

	flagged := m.Flag("10.0.0.9", "manual")
	assert.True(t, flagged.Flagged)
	assert.Len(t, m.List(true), 1)
	assert.Len(t, m.List(false), 2)

	_, err = m.Unflag("10.0.0.9")
	require.NoError(t, err)
	assert.Empty(t, m.List(true))

	_, err = m.Unflag("192.0.2.1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get("192.0.2.1")
	assert.ErrorIs(t, err, ErrNotFound)
}
