package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetPrefix("api")
	t.Cleanup(func() { SetPrefix("") })

	Errorf("boom %d", 7)
	DeferLogDuration("repo.Slow", time.Now().Add(-time.Second))()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "error", rec["level"])
	require.Equal(t, "boom 7", rec["message"])
	require.Equal(t, "api", rec["service"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	require.Equal(t, "repo.Slow", rec["fn"])
	require.GreaterOrEqual(t, rec["duration_ms"].(float64), float64(1000))
}
