// Package progress carries live updates from a screening run to whoever is
// watching it, typically an SSE stream or the structured log.
package progress

import (
	"time"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/globaltime"
)

type EventType string

const (
	EventPhaseStart        EventType = "phase_start"
	EventPhaseSkip         EventType = "phase_skip"
	EventGatherProgress    EventType = "gather_progress"
	EventExpansionProgress EventType = "expansion_progress"
	EventEliminateSummary  EventType = "eliminate_summary"
	EventDedupeProgress    EventType = "dedupe_progress"
	EventClusterBatch      EventType = "cluster_batch"
	EventClusterMerged     EventType = "cluster_merged"
	EventCategorizeBatch   EventType = "categorize_batch"
	EventAnalyzeItem       EventType = "analyze_item"
	EventHeartbeat         EventType = "heartbeat"
	EventPaused            EventType = "paused"
	EventError             EventType = "error"
	EventComplete          EventType = "complete"
)

// Event is one progress update. Done/Total are unit counts within the
// current step; both are zero when the step has no meaningful count.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase,omitempty"`
	Message   string         `json:"message,omitempty"`
	Done      int            `json:"done,omitempty"`
	Total     int            `json:"total,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives events. Emit must not block the pipeline indefinitely.
type Sink interface {
	Emit(e Event)
}

// Stamp fills the timestamp if the producer left it zero.
func Stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = globaltime.Now()
	}
	return e
}

// ChannelSink buffers events for a single consumer. Heartbeats are dropped
// when the buffer is full; every other event type blocks until delivered so
// a slow consumer cannot lose phase transitions or findings.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Emit(e Event) {
	e = Stamp(e)
	if e.Type == EventHeartbeat {
		select {
		case c.ch <- e:
		default:
		}
		return
	}
	c.ch <- e
}

// Events is the consumer side of the sink.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// Close releases the consumer. Only the producer side may call it, and only
// after the last Emit.
func (c *ChannelSink) Close() {
	close(c.ch)
}

// LoggerSink mirrors events into the structured log.
type LoggerSink struct {
	logger zerolog.Logger
}

func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (l *LoggerSink) Emit(e Event) {
	e = Stamp(e)
	ev := l.logger.Info()
	if e.Type == EventError {
		ev = l.logger.Error()
	}
	ev.Str("event", string(e.Type)).
		Str("session_id", e.SessionID).
		Str("phase", e.Phase).
		Int("done", e.Done).
		Int("total", e.Total).
		Msg(e.Message)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	e = Stamp(e)
	for _, s := range m {
		s.Emit(e)
	}
}

// NopSink discards everything. Useful in tests.
type NopSink struct{}

func (NopSink) Emit(Event) {}
