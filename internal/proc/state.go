package proc

import "time"

// State is the lifecycle state of one supervised invocation.
//
// State Machine:
// Queued -> Running -> {Finished | Failed | Cancelled}
// Queued -> Cancelled (dequeued before it ever ran)
type State int

const (
	StateQueued State = iota
	StateRunning
	StateFinished
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to.Terminal()
	default:
		return false
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Record is the supervisor-owned bookkeeping for one invocation. Snapshots of
// it are handed out to callers; the supervisor remains the sole writer while
// the record is non-terminal.
type Record struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Args     []string  `json:"args,omitempty"`
	WorkDir  string    `json:"work_dir,omitempty"`
	State    State     `json:"state"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exit_code"`
	Progress int       `json:"progress"` // latest advisory percentage, -1 when unknown
	QueuedAt time.Time `json:"queued_at,omitempty"`
	StartAt  time.Time `json:"started_at,omitempty"`
	StopAt   time.Time `json:"stopped_at,omitempty"`
}
