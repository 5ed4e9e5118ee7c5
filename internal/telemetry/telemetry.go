// Package telemetry defines the observability handle shared by all
// components: a Recorder for named numeric metrics. Loggers are passed
// separately as *slog.Logger; the Recorder covers the counters and
// durations emitted at stage boundaries.
package telemetry

import (
	"log/slog"
	"time"
)

// Recorder records named metrics. Implementations must be safe for
// concurrent use; the sync stage may run parallel workers.
type Recorder interface {
	// Count records an additive metric observation.
	Count(name string, value float64)
	// Duration records an elapsed-time observation.
	Duration(name string, d time.Duration)
}

// logRecorder emits each metric as a structured log event. Downstream
// collection (CloudWatch EMF, log-based metrics) is handled outside the
// process.
type logRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a Recorder that emits metrics through the given
// logger. A nil logger uses slog.Default().
func NewLogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &logRecorder{logger: logger}
}

func (r *logRecorder) Count(name string, value float64) {
	r.logger.Info("metric",
		slog.String("name", name),
		slog.Float64("value", value),
		slog.String("unit", "count"),
	)
}

func (r *logRecorder) Duration(name string, d time.Duration) {
	r.logger.Info("metric",
		slog.String("name", name),
		slog.Float64("value", d.Seconds()),
		slog.String("unit", "seconds"),
	)
}

// noopRecorder discards all observations.
type noopRecorder struct{}

func (noopRecorder) Count(string, float64)          {}
func (noopRecorder) Duration(string, time.Duration) {}

// Noop returns a Recorder that discards everything. Used in tests and as
// the fallback when no recorder is configured.
func Noop() Recorder {
	return noopRecorder{}
}
