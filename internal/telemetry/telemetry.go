// Package telemetry records extension lifecycle events. Sinks are
// fire-and-forget: logging an event never fails the operation.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindInstall   Kind = "extension_install"
	KindUpdate    Kind = "extension_update"
	KindUninstall Kind = "extension_uninstall"
	KindEnable    Kind = "extension_enable"
	KindDisable   Kind = "extension_disable"
)

// Status is the outcome of the operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event is one lifecycle record.
type Event struct {
	ID        string
	Kind      Kind
	Extension string
	ExtID     string
	Version   string
	Source    string
	Scope     string
	Status    Status
	Error     string
	Time      time.Time
}

// NewEvent stamps a fresh event with an id and the current time.
func NewEvent(kind Kind, extension string, status Status) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Extension: extension,
		Status:    status,
		Time:      time.Now(),
	}
}

// WithError marks the event failed with err.
func (e Event) WithError(err error) Event {
	e.Status = StatusError
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink receives events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a Sink backed by logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "telemetry")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e Event) {
	attrs := []any{
		"event_id", e.ID,
		"extension", e.Extension,
		"status", string(e.Status),
	}
	if e.ExtID != "" {
		attrs = append(attrs, "extension_id", e.ExtID)
	}
	if e.Version != "" {
		attrs = append(attrs, "version", e.Version)
	}
	if e.Source != "" {
		attrs = append(attrs, "source", e.Source)
	}
	if e.Scope != "" {
		attrs = append(attrs, "scope", e.Scope)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	s.logger.DebugContext(ctx, string(e.Kind), attrs...)
}

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind with status were recorded.
func (r *Recorder) Count(kind Kind, status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind && e.Status == status {
			n++
		}
	}
	return n
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
