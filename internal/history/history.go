package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventFinished  EventType = "finished"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventStage     EventType = "stage"
)

// Record captures one process invocation, optionally bound to a pipeline
// entity and stage. Supervisor-level records leave Entity/Stage empty;
// tracker-level stage attempts fill them in.
type Record struct {
	ProcessID  string    `json:"process_id"`
	Entity     string    `json:"entity,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	StageIndex int       `json:"stage_index,omitempty"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	Artifact   string    `json:"artifact,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
