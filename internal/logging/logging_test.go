package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_ErrorLevelDisablesInfo(t *testing.T) {
	logger := New("error", "text")
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))

	ctx = WithRequestID(ctx, "req-456")
	assert.Equal(t, "req-456", RequestID(ctx))
}

func TestFromContext_DefaultAndCustom(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, slog.Default(), FromContext(ctx))

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	assert.Equal(t, custom, FromContext(ctx))
}

func TestL_AttachesCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTransactionID(ctx, "tx-9")

	L(ctx).Info("scored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scored", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "tx-9", line["transaction_id"])
}

func TestL_OmitsMissingIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))

	L(ctx).Info("plain")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "request_id")
	assert.NotContains(t, line, "transaction_id")
}
