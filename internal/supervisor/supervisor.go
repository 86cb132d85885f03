package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/pdfpipe/internal/events"
	"github.com/loykin/pdfpipe/internal/history"
	"github.com/loykin/pdfpipe/internal/logger"
	"github.com/loykin/pdfpipe/internal/metrics"
	"github.com/loykin/pdfpipe/internal/proc"
	"github.com/loykin/pdfpipe/internal/progress"
)

// Config controls queueing and termination behavior.
type Config struct {
	// MaxConcurrent is the number of queue slots; default 1 (strictly sequential).
	MaxConcurrent int
	// StartTimeout bounds how long a spawn may take before it is treated as a
	// spawn failure. Default 3s.
	StartTimeout time.Duration
	// StopGrace is the window between the graceful-terminate signal and the
	// forced kill on cancellation. Default 3s.
	StopGrace time.Duration
	// RunTimeout, when positive, cancels a process that has been running for
	// longer than this. Zero means a running process is never timed out.
	RunTimeout time.Duration
	// ProcessLog is the default output-mirroring config applied to specs that
	// do not carry their own.
	ProcessLog logger.Config
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 3 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 3 * time.Second
	}
}

// Supervisor owns the queue of pending invocations and the set of running
// processes. All bookkeeping is mutated by a single dispatcher goroutine that
// consumes commands and process events from channels, so the queue, the
// running set and every state transition have exactly one writer.
//
// Lifecycle notifications (output lines, exits) arrive as messages on an
// internal channel; handlers run to completion without preemption from each
// other. External processes still execute concurrently as OS processes.
type Supervisor struct {
	cfg   Config
	bus   *events.Bus
	sinks []history.Sink

	cmdCh chan command
	evCh  chan procEvent
	done  chan struct{}

	// Dispatcher-owned state. Never touched outside the dispatcher goroutine.
	queue    []proc.Spec
	running  map[string]*runningProc
	records  map[string]*proc.Record
	seq      uint64
	wasEmpty bool
}

type runningProc struct {
	p         *proc.Proc
	cancelled bool // cancel requested while running
	runTimer  *time.Timer
}

type action int

const (
	actionEnqueue action = iota
	actionStartNow
	actionCancel
	actionStopAll
	actionStatus
	actionQueueStatus
	actionRecords
	actionClose
)

type command struct {
	action action
	spec   proc.Spec
	id     string
	reply  chan response
}

type response struct {
	ok      bool
	id      string
	rec     proc.Record
	found   bool
	queued  int
	running int
	recs    []proc.Record
}

type procEventKind int

const (
	evLine procEventKind = iota
	evExit
)

type procEvent struct {
	kind     procEventKind
	id       string
	line     string
	stderr   bool
	exitCode int
}

// New creates a Supervisor and starts its dispatcher. Terminal records are
// retained for status queries; sinks receive start/terminal history events.
func New(cfg Config, bus *events.Bus, sinks ...history.Sink) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:      cfg,
		bus:      bus,
		sinks:    sinks,
		cmdCh:    make(chan command),
		evCh:     make(chan procEvent, 1024),
		done:     make(chan struct{}),
		running:  make(map[string]*runningProc),
		records:  make(map[string]*proc.Record),
		wasEmpty: true,
	}
	go s.dispatch()
	return s
}

// Enqueue appends an invocation to the FIFO queue and returns its process id
// (generated when id is empty). It fails only when the id is already taken,
// in which case it returns "" and emits a supervisor error event.
func (s *Supervisor) Enqueue(cmd string, args []string, workDir, id string) string {
	return s.EnqueueSpec(proc.Spec{ID: id, Command: cmd, Args: args, WorkDir: workDir})
}

// EnqueueSpec is Enqueue with full control over env and log mirroring.
func (s *Supervisor) EnqueueSpec(spec proc.Spec) string {
	r, ok := s.do(command{action: actionEnqueue, spec: spec})
	if !ok {
		return ""
	}
	return r.id
}

// StartImmediately bypasses the queue. It fails (false plus an error event)
// if the id is already known or the concurrency cap is saturated.
func (s *Supervisor) StartImmediately(id, cmd string, args []string, workDir string) bool {
	r, ok := s.do(command{action: actionStartNow, spec: proc.Spec{ID: id, Command: cmd, Args: args, WorkDir: workDir}})
	return ok && r.ok
}

// Cancel cancels a queued entry (synchronously, it is simply dequeued) or a
// running process (terminate signal, grace period, forced kill; the terminal
// event follows once the OS confirms). Returns false for unknown ids,
// already-terminal records, and repeated cancels.
func (s *Supervisor) Cancel(id string) bool {
	r, ok := s.do(command{action: actionCancel, id: id})
	return ok && r.ok
}

// StopAll cancels every queued entry and force-kills every running process.
func (s *Supervisor) StopAll() {
	s.do(command{action: actionStopAll})
}

// Status returns a snapshot of the record for id.
func (s *Supervisor) Status(id string) (proc.Record, bool) {
	r, ok := s.do(command{action: actionStatus, id: id})
	if !ok {
		return proc.Record{}, false
	}
	return r.rec, r.found
}

// QueueStatus returns the current queue length and running count.
func (s *Supervisor) QueueStatus() (queued, running int) {
	r, ok := s.do(command{action: actionQueueStatus})
	if !ok {
		return 0, 0
	}
	return r.queued, r.running
}

// Records returns snapshots of every record the supervisor knows about.
func (s *Supervisor) Records() []proc.Record {
	r, ok := s.do(command{action: actionRecords})
	if !ok {
		return nil
	}
	return r.recs
}

// Close performs StopAll, waits for every running process to be reaped, and
// stops the dispatcher. The supervisor is unusable afterwards; public
// operations return their zero results.
func (s *Supervisor) Close() {
	s.do(command{action: actionClose})
}

func (s *Supervisor) do(c command) (response, bool) {
	c.reply = make(chan response, 1)
	select {
	case s.cmdCh <- c:
		return <-c.reply, true
	case <-s.done:
		return response{}, false
	}
}

// dispatch is the single-writer event loop.
func (s *Supervisor) dispatch() {
	for {
		select {
		case c := <-s.cmdCh:
			if c.action == actionClose {
				s.shutdown()
				c.reply <- response{ok: true}
				close(s.done)
				return
			}
			s.handleCommand(c)
		case e := <-s.evCh:
			s.handleProcEvent(e)
		}
	}
}

func (s *Supervisor) handleCommand(c command) {
	switch c.action {
	case actionEnqueue:
		c.reply <- response{id: s.handleEnqueue(c.spec)}
	case actionStartNow:
		c.reply <- response{ok: s.handleStartNow(c.spec)}
	case actionCancel:
		c.reply <- response{ok: s.handleCancel(c.id)}
	case actionStopAll:
		s.handleStopAll()
		c.reply <- response{ok: true}
	case actionStatus:
		if rec, ok := s.records[c.id]; ok {
			c.reply <- response{rec: *rec, found: true}
		} else {
			c.reply <- response{}
		}
	case actionQueueStatus:
		c.reply <- response{queued: len(s.queue), running: len(s.running)}
	case actionRecords:
		recs := make([]proc.Record, 0, len(s.records))
		for _, r := range s.records {
			recs = append(recs, *r)
		}
		c.reply <- response{recs: recs}
	}
}

func (s *Supervisor) handleProcEvent(e procEvent) {
	switch e.kind {
	case evLine:
		s.handleLine(e)
	case evExit:
		s.handleExit(e)
	}
}

func (s *Supervisor) handleEnqueue(spec proc.Spec) string {
	if spec.ID == "" {
		spec.ID = s.nextID()
	} else if _, taken := s.records[spec.ID]; taken {
		s.reportError(spec.ID, fmt.Sprintf("process id %q already in use", spec.ID))
		return ""
	}
	if !spec.Log.Enabled() {
		spec.Log = s.cfg.ProcessLog
	}
	now := time.Now()
	s.records[spec.ID] = &proc.Record{
		ID:       spec.ID,
		Command:  spec.Command,
		Args:     spec.Args,
		WorkDir:  spec.WorkDir,
		State:    proc.StateQueued,
		Progress: -1,
		QueuedAt: now,
	}
	s.queue = append(s.queue, spec)
	metrics.IncQueued()
	s.bus.Publish(events.ProcessQueuedEvent{ID: spec.ID, Command: spec.Command})
	s.wasEmpty = false
	s.drain()
	return spec.ID
}

func (s *Supervisor) handleStartNow(spec proc.Spec) bool {
	if spec.ID == "" {
		spec.ID = s.nextID()
	} else if _, taken := s.records[spec.ID]; taken {
		s.reportError(spec.ID, fmt.Sprintf("process id %q already in use", spec.ID))
		return false
	}
	if !spec.Log.Enabled() {
		spec.Log = s.cfg.ProcessLog
	}
	if len(s.running) >= s.cfg.MaxConcurrent {
		s.reportError(spec.ID, fmt.Sprintf("concurrency cap %d saturated", s.cfg.MaxConcurrent))
		return false
	}
	s.records[spec.ID] = &proc.Record{
		ID:       spec.ID,
		Command:  spec.Command,
		Args:     spec.Args,
		WorkDir:  spec.WorkDir,
		State:    proc.StateQueued,
		Progress: -1,
		QueuedAt: time.Now(),
	}
	s.wasEmpty = false
	ok := s.spawn(spec)
	s.publishQueueStatus()
	return ok
}

func (s *Supervisor) handleCancel(id string) bool {
	rec, ok := s.records[id]
	if !ok || rec.State.Terminal() {
		return false
	}
	if rec.State == proc.StateQueued {
		for i := range s.queue {
			if s.queue[i].ID == id {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		s.markTerminal(rec, proc.StateCancelled, 0)
		s.drain()
		return true
	}
	rp, ok := s.running[id]
	if !ok || rp.cancelled {
		return false
	}
	if rp.p.Exited() {
		// The exit event is already buffered in evCh; the process was never
		// signalled, so let handleExit classify it by its real exit code.
		return false
	}
	rp.cancelled = true
	// The escalation runs off the dispatcher; the terminal transition arrives
	// through evCh once the reaper confirms the exit.
	go rp.p.Stop(s.cfg.StopGrace)
	return true
}

func (s *Supervisor) handleStopAll() {
	for _, spec := range s.queue {
		if rec, ok := s.records[spec.ID]; ok && rec.State == proc.StateQueued {
			s.markTerminal(rec, proc.StateCancelled, 0)
		}
	}
	s.queue = nil
	for _, rp := range s.running {
		if !rp.cancelled && !rp.p.Exited() {
			rp.cancelled = true
			go rp.p.Kill()
		}
	}
	s.publishQueueStatus()
}

// drain pops queued entries while slots are free. It runs after submissions
// and after every terminal transition rather than on a timer.
func (s *Supervisor) drain() {
	for len(s.queue) > 0 && len(s.running) < s.cfg.MaxConcurrent {
		spec := s.queue[0]
		s.queue = s.queue[1:]
		s.spawn(spec)
	}
	s.publishQueueStatus()
	s.checkEmpty()
}

// spawn starts one process. On spawn failure the record is discarded and the
// queue slot stays free, so draining continues.
func (s *Supervisor) spawn(spec proc.Spec) bool {
	id := spec.ID
	rec := s.records[id]
	p := proc.New(spec)

	onLine := func(line string, stderr bool) {
		s.evCh <- procEvent{kind: evLine, id: id, line: line, stderr: stderr}
	}
	onExit := func(exitCode int, _ error) {
		s.evCh <- procEvent{kind: evExit, id: id, exitCode: exitCode}
	}

	startErr := make(chan error, 1)
	go func() { startErr <- p.Start(onLine, onExit) }()

	var err error
	select {
	case err = <-startErr:
	case <-time.After(s.cfg.StartTimeout):
		err = fmt.Errorf("spawn timed out after %s", s.cfg.StartTimeout)
		go func() {
			if e := <-startErr; e == nil {
				p.Kill()
			}
		}()
	}
	if err != nil {
		delete(s.records, id)
		metrics.IncSpawnFailure()
		s.reportSpawnFailure(id, fmt.Sprintf("failed to start process: %v", err))
		return false
	}

	rec.State = proc.StateRunning
	rec.PID = p.PID()
	rec.StartAt = time.Now()
	rp := &runningProc{p: p}
	if s.cfg.RunTimeout > 0 {
		rp.runTimer = time.AfterFunc(s.cfg.RunTimeout, func() { s.Cancel(id) })
	}
	s.running[id] = rp

	metrics.IncStart()
	s.bus.Publish(events.ProcessStartedEvent{ID: id, PID: rec.PID})
	s.persist(history.EventStarted, *rec)
	slog.Debug("process started", "id", id, "pid", rec.PID)
	return true
}

func (s *Supervisor) handleLine(e procEvent) {
	rec, ok := s.records[e.id]
	if !ok || rec.State != proc.StateRunning {
		return
	}
	if e.stderr {
		s.bus.Publish(events.ProcessErrorEvent{ID: e.id, Line: e.line})
		return
	}
	s.bus.Publish(events.ProcessOutputEvent{ID: e.id, Line: e.line})
	if pct, matched := progress.Extract(e.line); matched {
		rec.Progress = pct
		s.bus.Publish(events.ProcessProgressEvent{ID: e.id, Percent: pct, Line: e.line})
	}
}

func (s *Supervisor) handleExit(e procEvent) {
	rp, ok := s.running[e.id]
	if !ok {
		return
	}
	delete(s.running, e.id)
	if rp.runTimer != nil {
		rp.runTimer.Stop()
	}
	rec := s.records[e.id]
	switch {
	case rp.cancelled:
		s.markTerminal(rec, proc.StateCancelled, e.exitCode)
	case e.exitCode == 0:
		s.markTerminal(rec, proc.StateFinished, 0)
	default:
		s.markTerminal(rec, proc.StateFailed, e.exitCode)
	}
	s.drain()
}

// markTerminal applies a terminal transition and emits the matching event,
// metrics and history record.
func (s *Supervisor) markTerminal(rec *proc.Record, to proc.State, exitCode int) {
	if !proc.CanTransition(rec.State, to) {
		return
	}
	rec.State = to
	// exitCode is meaningful only for Finished/Failed; a cancelled process was
	// killed and carries no usable code.
	if to != proc.StateCancelled {
		rec.ExitCode = exitCode
	}
	rec.StopAt = time.Now()
	metrics.IncTerminal(to.String())

	switch to {
	case proc.StateCancelled:
		s.bus.Publish(events.ProcessCancelledEvent{ID: rec.ID})
		s.persist(history.EventCancelled, *rec)
	case proc.StateFinished:
		s.bus.Publish(events.ProcessFinishedEvent{ID: rec.ID, ExitCode: 0})
		s.persist(history.EventFinished, *rec)
	case proc.StateFailed:
		s.bus.Publish(events.ProcessFinishedEvent{ID: rec.ID, ExitCode: exitCode})
		s.persist(history.EventFailed, *rec)
	}
	slog.Debug("process terminal", "id", rec.ID, "state", to.String(), "exit_code", exitCode)
}

func (s *Supervisor) checkEmpty() {
	if len(s.queue) == 0 && len(s.running) == 0 {
		if !s.wasEmpty {
			s.wasEmpty = true
			s.bus.Publish(events.QueueEmptyEvent{})
		}
		return
	}
	s.wasEmpty = false
}

func (s *Supervisor) publishQueueStatus() {
	metrics.SetQueueLength(len(s.queue))
	metrics.SetRunning(len(s.running))
	s.bus.Publish(events.QueueStatusEvent{QueueLength: len(s.queue), RunningCount: len(s.running)})
}

func (s *Supervisor) reportError(id, msg string) {
	slog.Warn("supervisor error", "id", id, "error", msg)
	s.bus.Publish(events.SupervisorErrorEvent{ID: id, Message: msg})
}

func (s *Supervisor) reportSpawnFailure(id, msg string) {
	slog.Warn("supervisor error", "id", id, "error", msg)
	s.bus.Publish(events.SupervisorErrorEvent{ID: id, Message: msg, SpawnFailure: true})
}

func (s *Supervisor) persist(t history.EventType, rec proc.Record) {
	if len(s.sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			ProcessID: rec.ID,
			PID:       rec.PID,
			ExitCode:  rec.ExitCode,
			Success:   rec.State == proc.StateFinished,
			StartedAt: rec.StartAt,
			StoppedAt: rec.StopAt,
		},
	}
	for _, h := range s.sinks {
		_ = h.Send(context.Background(), evt)
	}
}

func (s *Supervisor) nextID() string {
	for {
		s.seq++
		id := fmt.Sprintf("proc-%d", s.seq)
		if _, taken := s.records[id]; !taken {
			return id
		}
	}
}

// shutdown force-kills everything and drains exits so no reaper goroutine is
// left blocked on evCh.
func (s *Supervisor) shutdown() {
	s.handleStopAll()
	for len(s.running) > 0 {
		e := <-s.evCh
		s.handleProcEvent(e)
	}
	s.checkEmpty()
}
