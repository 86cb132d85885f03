package events

// Event type constants for kelindar/event.
const (
	TypeProcessQueued uint32 = iota + 1
	TypeProcessStarted
	TypeProcessOutput
	TypeProcessError
	TypeProcessProgress
	TypeProcessFinished
	TypeProcessCancelled
	TypeQueueEmpty
	TypeQueueStatus
	TypeSupervisorError
	TypeStageAdvanced
	TypeEntityFailed
	TypeEntityCompleted
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ProcessQueuedEvent fires when an invocation enters the waiting queue.
type ProcessQueuedEvent struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

func (e ProcessQueuedEvent) Type() uint32 { return TypeProcessQueued }

// ProcessStartedEvent fires once the OS process has been spawned.
type ProcessStartedEvent struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

func (e ProcessStartedEvent) Type() uint32 { return TypeProcessStarted }

// ProcessOutputEvent carries one complete stdout line.
type ProcessOutputEvent struct {
	ID   string `json:"id"`
	Line string `json:"line"`
}

func (e ProcessOutputEvent) Type() uint32 { return TypeProcessOutput }

// ProcessErrorEvent carries one complete stderr line.
type ProcessErrorEvent struct {
	ID   string `json:"id"`
	Line string `json:"line"`
}

func (e ProcessErrorEvent) Type() uint32 { return TypeProcessError }

// ProcessProgressEvent carries an advisory completion percentage mined from a
// stdout line. Percent is always within [0,100].
type ProcessProgressEvent struct {
	ID      string `json:"id"`
	Percent int    `json:"percent"`
	Line    string `json:"line"`
}

func (e ProcessProgressEvent) Type() uint32 { return TypeProcessProgress }

// ProcessFinishedEvent fires after a process exits and all of its buffered
// output has been flushed. ExitCode 0 means the record moved to Finished,
// anything else to Failed.
type ProcessFinishedEvent struct {
	ID       string `json:"id"`
	ExitCode int    `json:"exit_code"`
}

func (e ProcessFinishedEvent) Type() uint32 { return TypeProcessFinished }

// ProcessCancelledEvent fires when a queued entry is dequeued by a cancel
// request, or when a running process has been confirmed terminated after one.
type ProcessCancelledEvent struct {
	ID string `json:"id"`
}

func (e ProcessCancelledEvent) Type() uint32 { return TypeProcessCancelled }

// QueueEmptyEvent fires exactly once per transition into the state where
// nothing is queued and nothing is running.
type QueueEmptyEvent struct{}

func (e QueueEmptyEvent) Type() uint32 { return TypeQueueEmpty }

// QueueStatusEvent reports the queue depth and running count after every
// bookkeeping change.
type QueueStatusEvent struct {
	QueueLength  int `json:"queue_length"`
	RunningCount int `json:"running_count"`
}

func (e QueueStatusEvent) Type() uint32 { return TypeQueueStatus }

// SupervisorErrorEvent reports a rejected operation or a spawn failure. The
// referenced record, if any, never reached Running. SpawnFailure is set only
// when an accepted invocation failed to start; rejections (duplicate id,
// saturated cap) leave it false because the process they name may belong to
// someone else and may well be running.
type SupervisorErrorEvent struct {
	ID           string `json:"id,omitempty"`
	Message      string `json:"message"`
	SpawnFailure bool   `json:"spawn_failure,omitempty"`
}

func (e SupervisorErrorEvent) Type() uint32 { return TypeSupervisorError }

// StageAdvancedEvent fires when an entity's stage succeeds and the next stage
// is being launched.
type StageAdvancedEvent struct {
	Entity     string `json:"entity"`
	StageIndex int    `json:"stage_index"`
	Stage      string `json:"stage"`
}

func (e StageAdvancedEvent) Type() uint32 { return TypeStageAdvanced }

// EntityFailedEvent fires when a stage attempt fails or is cancelled; the
// entity stalls until retried.
type EntityFailedEvent struct {
	Entity string `json:"entity"`
	Stage  string `json:"stage"`
}

func (e EntityFailedEvent) Type() uint32 { return TypeEntityFailed }

// EntityCompletedEvent fires when the final stage of an entity succeeds.
type EntityCompletedEvent struct {
	Entity   string `json:"entity"`
	Artifact string `json:"artifact,omitempty"`
}

func (e EntityCompletedEvent) Type() uint32 { return TypeEntityCompleted }
