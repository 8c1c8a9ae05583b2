package generate

import "go.uber.org/zap"

// EventType names one orchestrator progress event.
type EventType string

const (
	EventPrepare   EventType = "prepare"
	EventJobStart  EventType = "job_start"
	EventJobFinish EventType = "job_finish"
	EventJobError  EventType = "job_error"
	EventSkipped   EventType = "skipped"
)

// Event is one progress notification. TotalJobs is set on prepare;
// per-job events carry target, job, and provider identity.
type Event struct {
	Type      EventType
	TargetId  string
	JobId     string
	Provider  string
	Attempt   int
	TotalJobs int
	Message   string
}

// Sink receives progress events. Emit must be safe for concurrent use;
// workers publish from every pool.
type Sink interface {
	Emit(e Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink discards events.
func NopSink() Sink { return nopSink{} }

type logSink struct {
	logger *zap.Logger
}

// NewLogSink publishes events to a zap logger.
func NewLogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logSink{logger: logger}
}

func (s *logSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
	}
	if e.TargetId != "" {
		fields = append(fields, zap.String("target", e.TargetId))
	}
	if e.JobId != "" {
		fields = append(fields, zap.String("job", e.JobId))
	}
	if e.Provider != "" {
		fields = append(fields, zap.String("provider", e.Provider))
	}
	if e.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", e.Attempt))
	}
	if e.TotalJobs > 0 {
		fields = append(fields, zap.Int("jobs", e.TotalJobs))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("detail", e.Message))
	}

	switch e.Type {
	case EventJobError:
		s.logger.Warn("generation job failed", fields...)
	default:
		s.logger.Info("generation progress", fields...)
	}
}
