package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/pdfpipe/internal/events"
	"github.com/loykin/pdfpipe/internal/history"
	"github.com/loykin/pdfpipe/internal/metrics"
	"github.com/loykin/pdfpipe/internal/supervisor"
)

// TrackerConfig controls how entities flow through the stage list.
type TrackerConfig struct {
	// Stages is the ordered stage list; must be non-empty.
	Stages []Stage
	// MaxActive caps how many entities have a live stage process at once.
	// Default 1.
	MaxActive int
	// ValidateEntity requires the entity path to exist on submit; disabled for
	// callers whose entities are not files.
	ValidateEntity bool
}

// EntityState summarizes where an entity currently is.
type EntityState int

const (
	EntityUnknown EntityState = iota
	EntityPending
	EntityActive
	EntityFailed
	EntityCompleted
)

func (s EntityState) String() string {
	switch s {
	case EntityPending:
		return "pending"
	case EntityActive:
		return "active"
	case EntityFailed:
		return "failed"
	case EntityCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// EntityStatus is a point-in-time view of one entity.
type EntityStatus struct {
	Entity     string      `json:"entity"`
	State      EntityState `json:"-"`
	StateName  string      `json:"state"`
	StageIndex int         `json:"stage_index,omitempty"`
	Stage      string      `json:"stage,omitempty"`
	ProcessID  string      `json:"process_id,omitempty"`
	Artifact   string      `json:"artifact,omitempty"`
}

// Attempt is one append-only history entry: one stage process run for one
// entity.
type Attempt struct {
	Entity     string    `json:"entity"`
	ProcessID  string    `json:"process_id"`
	Stage      string    `json:"stage"`
	StageIndex int       `json:"stage_index"`
	Success    bool      `json:"success"`
	Artifact   string    `json:"artifact,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type entityRun struct {
	stageIndex int
	processID  string
}

type stageRef struct {
	entity     string
	stageIndex int
}

// Tracker drives each entity through the ordered stage list, one supervised
// process per stage. It holds only process ids, never process internals; all
// lifecycle information arrives through the event bus.
type Tracker struct {
	cfg   TrackerConfig
	sup   *supervisor.Supervisor
	bus   *events.Bus
	sinks []history.Sink

	mu        sync.Mutex
	pending   []string
	active    map[string]*entityRun // entity -> current run
	owner     map[string]stageRef   // process id -> owning entity/stage
	failed    map[string]struct{}
	completed map[string]string // entity -> final artifact
	attempts  []Attempt
	unsubs    []func()
}

// NewTracker wires a tracker to the supervisor through the bus and starts
// consuming terminal events.
func NewTracker(cfg TrackerConfig, sup *supervisor.Supervisor, bus *events.Bus, sinks ...history.Sink) (*Tracker, error) {
	if len(cfg.Stages) == 0 {
		return nil, errors.New("pipeline: at least one stage is required")
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 1
	}
	t := &Tracker{
		cfg:       cfg,
		sup:       sup,
		bus:       bus,
		sinks:     sinks,
		active:    make(map[string]*entityRun),
		owner:     make(map[string]stageRef),
		failed:    make(map[string]struct{}),
		completed: make(map[string]string),
	}
	t.unsubs = append(t.unsubs,
		bus.Subscribe(func(e events.ProcessFinishedEvent) { t.onTerminal(e.ID, e.ExitCode == 0) }),
		bus.Subscribe(func(e events.ProcessCancelledEvent) { t.onTerminal(e.ID, false) }),
		// A spawn failure never reaches Running; without this the entity would
		// stay active forever. Other supervisor errors (duplicate id, cap
		// saturation) name a process that may still be running and must not
		// fail the entity.
		bus.Subscribe(func(e events.SupervisorErrorEvent) {
			if e.SpawnFailure {
				t.onTerminal(e.ID, false)
			}
		}),
	)
	return t, nil
}

// Close detaches the tracker from the bus. In-flight processes are left to
// the supervisor.
func (t *Tracker) Close() {
	for _, u := range t.unsubs {
		u()
	}
}

// Submit adds an entity to the pipeline. Returns false when the entity is
// already being tracked or fails validation. A previously failed or completed
// entity may be submitted again; it restarts from stage 0.
func (t *Tracker) Submit(entity string) bool {
	if t.cfg.ValidateEntity {
		if _, err := os.Stat(entity); err != nil {
			slog.Warn("pipeline submit rejected", "entity", entity, "error", err)
			return false
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTrackedLocked(entity) {
		return false
	}
	delete(t.failed, entity)
	delete(t.completed, entity)
	t.pending = append(t.pending, entity)
	t.fillSlotsLocked()
	return true
}

// Retry removes an entity from the failed set and resubmits it from stage 0.
// Partial resume is intentionally unsupported.
func (t *Tracker) Retry(entity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.failed[entity]; !ok {
		return false
	}
	delete(t.failed, entity)
	t.pending = append(t.pending, entity)
	t.fillSlotsLocked()
	return true
}

// CancelEntity removes a pending entity or cancels the entity's currently
// active process. Returns false when the entity has nothing to cancel.
func (t *Tracker) CancelEntity(entity string) bool {
	t.mu.Lock()
	for i := range t.pending {
		if t.pending[i] == entity {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			t.mu.Unlock()
			return true
		}
	}
	run, ok := t.active[entity]
	t.mu.Unlock()
	if !ok {
		return false
	}
	// The cancelled event performs the bookkeeping.
	return t.sup.Cancel(run.processID)
}

// Status reports where an entity currently is.
func (t *Tracker) Status(entity string) EntityStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := EntityStatus{Entity: entity}
	switch {
	case t.inPendingLocked(entity):
		st.State = EntityPending
	case t.active[entity] != nil:
		run := t.active[entity]
		st.State = EntityActive
		st.StageIndex = run.stageIndex
		st.Stage = t.cfg.Stages[run.stageIndex].Name
		st.ProcessID = run.processID
	default:
		if _, ok := t.failed[entity]; ok {
			st.State = EntityFailed
		} else if artifact, ok := t.completed[entity]; ok {
			st.State = EntityCompleted
			st.Artifact = artifact
		}
	}
	st.StateName = st.State.String()
	return st
}

// Failed returns the entities whose most recent stage attempt failed.
func (t *Tracker) Failed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.failed))
	for e := range t.failed {
		out = append(out, e)
	}
	return out
}

// History returns a copy of the append-only attempt list.
func (t *Tracker) History() []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Attempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}

// Stages returns the configured stage list.
func (t *Tracker) Stages() []Stage {
	out := make([]Stage, len(t.cfg.Stages))
	copy(out, t.cfg.Stages)
	return out
}

func (t *Tracker) isTrackedLocked(entity string) bool {
	return t.inPendingLocked(entity) || t.active[entity] != nil
}

func (t *Tracker) inPendingLocked(entity string) bool {
	for _, p := range t.pending {
		if p == entity {
			return true
		}
	}
	return false
}

// fillSlotsLocked starts stage 0 for pending entities while the budget allows.
func (t *Tracker) fillSlotsLocked() {
	for len(t.active) < t.cfg.MaxActive && len(t.pending) > 0 {
		entity := t.pending[0]
		t.pending = t.pending[1:]
		t.startStageLocked(entity, 0)
	}
}

func (t *Tracker) startStageLocked(entity string, stageIndex int) {
	st := t.cfg.Stages[stageIndex]
	id := t.sup.Enqueue(st.Command, st.ExpandArgs(entity), st.WorkDir, "")
	if id == "" {
		t.failed[entity] = struct{}{}
		delete(t.active, entity)
		t.bus.Publish(events.EntityFailedEvent{Entity: entity, Stage: st.Name})
		return
	}
	t.active[entity] = &entityRun{stageIndex: stageIndex, processID: id}
	t.owner[id] = stageRef{entity: entity, stageIndex: stageIndex}
	slog.Info("stage launched", "entity", entity, "stage", st.Name, "process_id", id)
}

// onTerminal consumes a terminal supervisor event for a process the tracker
// may own. A failed or cancelled stage stalls only its own entity; everything
// else keeps flowing.
func (t *Tracker) onTerminal(processID string, success bool) {
	t.mu.Lock()
	ref, ok := t.owner[processID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.owner, processID)
	entity := ref.entity
	st := t.cfg.Stages[ref.stageIndex]

	artifact := ""
	if success {
		artifact = st.ArtifactFor(entity)
	}
	attempt := Attempt{
		Entity:     entity,
		ProcessID:  processID,
		Stage:      st.Name,
		StageIndex: ref.stageIndex,
		Success:    success,
		Artifact:   artifact,
		Timestamp:  time.Now().UTC(),
	}
	t.attempts = append(t.attempts, attempt)
	metrics.IncStageAttempt(st.Name, success)
	t.persistAttempt(attempt)

	var toPublish []events.Event
	switch {
	case !success:
		delete(t.active, entity)
		t.failed[entity] = struct{}{}
		toPublish = append(toPublish, events.EntityFailedEvent{Entity: entity, Stage: st.Name})
	case ref.stageIndex+1 < len(t.cfg.Stages):
		next := ref.stageIndex + 1
		toPublish = append(toPublish, events.StageAdvancedEvent{
			Entity: entity, StageIndex: next, Stage: t.cfg.Stages[next].Name,
		})
		t.startStageLocked(entity, next)
	default:
		delete(t.active, entity)
		t.completed[entity] = artifact
		metrics.IncEntityCompleted()
		toPublish = append(toPublish, events.EntityCompletedEvent{Entity: entity, Artifact: artifact})
	}
	t.fillSlotsLocked()
	t.mu.Unlock()

	for _, ev := range toPublish {
		t.bus.Publish(ev)
	}
}

func (t *Tracker) persistAttempt(a Attempt) {
	if len(t.sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       history.EventStage,
		OccurredAt: a.Timestamp,
		Record: history.Record{
			ProcessID:  a.ProcessID,
			Entity:     a.Entity,
			Stage:      a.Stage,
			StageIndex: a.StageIndex,
			Success:    a.Success,
			Artifact:   a.Artifact,
		},
	}
	for _, h := range t.sinks {
		_ = h.Send(context.Background(), evt)
	}
}
