package findings

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log line: %s", buf.String())
	return entry
}

func TestLogFinding(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		detail     string
		diffs      []string
		wantDetail bool
		wantDiffs  bool
	}{
		{
			name:      "footer mismatch with diffs",
			kind:      "footer_mismatch",
			diffs:     []string{"reference count: 3 / 5", "size: 10 / 11"},
			wantDiffs: true,
		},
		{
			name:       "missing counterpart",
			kind:       "missing_counterpart",
			detail:     "no such file",
			wantDetail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(zerolog.New(&buf)).LogFinding(tt.kind, "/data/a.frag", "/data-moved/a.frag", tt.detail, tt.diffs)

			entry := decodeEntry(t, &buf)
			assert.Equal(t, "warn", entry["level"])
			assert.Equal(t, "finding", entry["event_type"])
			assert.Equal(t, tt.kind, entry["kind"])
			assert.Equal(t, "/data/a.frag", entry["path"])
			assert.Equal(t, "/data-moved/a.frag", entry["counterpart"])

			_, hasDetail := entry["detail"]
			assert.Equal(t, tt.wantDetail, hasDetail)

			diffs, hasDiffs := entry["diffs"]
			assert.Equal(t, tt.wantDiffs, hasDiffs)
			if tt.wantDiffs {
				assert.Len(t, diffs, len(tt.diffs))
			}
		})
	}
}

func TestLogPairOKAndSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.LogPairOK("/a", "/b")
	logger.LogSkipped("/a.fef", "excluded_suffix")
	assert.Empty(t, buf.String(), "debug events are filtered at info level")

	buf.Reset()
	logger = NewLogger(zerolog.New(&buf))
	logger.LogSkipped("/a.fef", "excluded_suffix")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "skipped", entry["event_type"])
	assert.Equal(t, "excluded_suffix", entry["reason"])
}

func TestLogSummary(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantLevel  string
		wantResult string
	}{
		{name: "passed", failures: 0, wantLevel: "info", wantResult: "passed"},
		{name: "failed", failures: 2, wantLevel: "error", wantResult: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(zerolog.New(&buf)).LogSummary("/data", "/data-moved", 10, 1, tt.failures)

			entry := decodeEntry(t, &buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "summary", entry["event_type"])
			assert.Equal(t, tt.wantResult, entry["result"])
			assert.EqualValues(t, 10, entry["compared"])
			assert.EqualValues(t, 1, entry["skipped"])
			assert.EqualValues(t, tt.failures, entry["failures"])
		})
	}
}

func TestLogStoreOp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.LogStoreOp("delete", "0102ab", "error", "object not found")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "store_operation", entry["event_type"])
	assert.Equal(t, "delete", entry["operation"])
	assert.Equal(t, "0102ab", entry["object_id"])
	assert.Equal(t, "object not found", entry["details"])

	buf.Reset()
	logger.LogStoreOp("move", "", "ok", "")
	entry = decodeEntry(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, entry, "object_id")
	assert.NotContains(t, entry, "details")
}

func TestNopLogger(t *testing.T) {
	logger := NewLogger(zerolog.Nop())
	assert.NotPanics(t, func() {
		logger.LogFinding("io_error", "/a", "/b", "boom", nil)
		logger.LogSummary("/a", "/b", 0, 0, 0)
	})
}
