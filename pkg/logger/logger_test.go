package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "agent-credit-api/pkg/errors"
)

func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = New(&buf, level, "json")
	t.Cleanup(func() { defaultLogger = prev })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestInfo_AttachesContextFields(t *testing.T) {
	buf := captureJSON(t, "info")

	ctx := WithContext(context.Background(), RequestIDKey, "req-9")
	ctx = WithContext(ctx, JobIDKey, "job-1")
	Info(ctx, "batch job accepted", "items", 3)

	line := decodeLine(t, buf)
	assert.Equal(t, "batch job accepted", line["msg"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.EqualValues(t, 3, line["items"])
	assert.NotContains(t, line, "user_id")
}

func TestFailure_LevelFollowsHTTPStatus(t *testing.T) {
	buf := captureJSON(t, "debug")
	Failure(context.Background(), "ledger.Deduct", apperrors.ErrInsufficientCredits, map[string]string{"user_id": "u1"})
	line := decodeLine(t, buf)
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, string(apperrors.CodeInsufficientCredits), line["error_code"])

	buf.Reset()
	Failure(context.Background(), "batch.Process", apperrors.ErrJobDispatchFailed, nil)
	assert.Equal(t, "ERROR", decodeLine(t, buf)["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
