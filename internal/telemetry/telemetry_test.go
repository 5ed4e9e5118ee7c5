package telemetry

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := NewLogRecorder(logger)
	rec.Count("ThreadsDiscovered", 42)
	rec.Duration("ThreadDiscoveryDuration", 1500*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, `"name":"ThreadsDiscovered"`)
	assert.Contains(t, out, `"value":42`)
	assert.Contains(t, out, `"unit":"count"`)
	assert.Contains(t, out, `"name":"ThreadDiscoveryDuration"`)
	assert.Contains(t, out, `"value":1.5`)
	assert.Contains(t, out, `"unit":"seconds"`)
}

func TestNoop(t *testing.T) {
	// Must not panic and must accept any values.
	rec := Noop()
	rec.Count("whatever", -1)
	rec.Duration("whatever", 0)
}
