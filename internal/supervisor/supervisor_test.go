//go:build !windows

package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/loykin/pdfpipe/internal/events"
	"github.com/loykin/pdfpipe/internal/proc"
)

func newTestSup(t *testing.T, cfg Config) (*Supervisor, *events.Bus) {
	t.Helper()
	bus := events.New()
	s := New(cfg, bus)
	t.Cleanup(s.Close)
	return s, bus
}

func waitCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func waitTerminal(t *testing.T, s *Supervisor, id string) proc.Record {
	t.Helper()
	waitCond(t, 5*time.Second, func() bool {
		rec, ok := s.Status(id)
		return ok && rec.State.Terminal()
	})
	rec, _ := s.Status(id)
	return rec
}

// collector accumulates events of interest under a lock.
type collector struct {
	mu       sync.Mutex
	started  []string
	outputs  []string
	errors   []string
	progress []int
	empties  int
	maxRun   int
}

func (c *collector) attach(bus *events.Bus) {
	bus.Subscribe(func(e events.ProcessStartedEvent) {
		c.mu.Lock()
		c.started = append(c.started, e.ID)
		c.mu.Unlock()
	})
	bus.Subscribe(func(e events.ProcessOutputEvent) {
		c.mu.Lock()
		c.outputs = append(c.outputs, e.Line)
		c.mu.Unlock()
	})
	bus.Subscribe(func(e events.ProcessErrorEvent) {
		c.mu.Lock()
		c.errors = append(c.errors, e.Line)
		c.mu.Unlock()
	})
	bus.Subscribe(func(e events.ProcessProgressEvent) {
		c.mu.Lock()
		c.progress = append(c.progress, e.Percent)
		c.mu.Unlock()
	})
	bus.Subscribe(func(e events.QueueEmptyEvent) {
		c.mu.Lock()
		c.empties++
		c.mu.Unlock()
	})
	bus.Subscribe(func(e events.QueueStatusEvent) {
		c.mu.Lock()
		if e.RunningCount > c.maxRun {
			c.maxRun = e.RunningCount
		}
		c.mu.Unlock()
	})
}

func (c *collector) snapshot() collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return collector{
		started:  append([]string(nil), c.started...),
		outputs:  append([]string(nil), c.outputs...),
		errors:   append([]string(nil), c.errors...),
		progress: append([]int(nil), c.progress...),
		empties:  c.empties,
		maxRun:   c.maxRun,
	}
}

func TestSequentialExecutionAndFIFO(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	col := &collector{}
	col.attach(bus)

	ids := []string{
		s.Enqueue("sleep 0.05", nil, "", "a"),
		s.Enqueue("sleep 0.05", nil, "", "b"),
		s.Enqueue("sleep 0.05", nil, "", "c"),
	}
	for _, id := range ids {
		rec := waitTerminal(t, s, id)
		if rec.State != proc.StateFinished {
			t.Fatalf("%s: state %s", id, rec.State)
		}
	}
	snap := col.snapshot()
	if snap.maxRun > 1 {
		t.Fatalf("concurrency cap violated: observed %d running", snap.maxRun)
	}
	if len(snap.started) != 3 || snap.started[0] != "a" || snap.started[1] != "b" || snap.started[2] != "c" {
		t.Fatalf("FIFO start order violated: %v", snap.started)
	}
}

func TestQueueEmptyFiresOncePerTransition(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	col := &collector{}
	col.attach(bus)

	a := s.Enqueue("true", nil, "", "")
	b := s.Enqueue("true", nil, "", "")
	waitTerminal(t, s, a)
	waitTerminal(t, s, b)
	waitCond(t, 2*time.Second, func() bool { return col.snapshot().empties == 1 })

	c := s.Enqueue("true", nil, "", "")
	waitTerminal(t, s, c)
	waitCond(t, 2*time.Second, func() bool { return col.snapshot().empties == 2 })
	// The count must settle at exactly 2.
	time.Sleep(100 * time.Millisecond)
	if got := col.snapshot().empties; got != 2 {
		t.Fatalf("queueEmpty fired %d times, want 2", got)
	}
}

func TestCancelQueuedNeverStarts(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	col := &collector{}
	col.attach(bus)

	blocker := s.Enqueue("sleep 30", nil, "", "blocker")
	waitCond(t, 2*time.Second, func() bool {
		rec, ok := s.Status(blocker)
		return ok && rec.State == proc.StateRunning
	})
	queued := s.Enqueue("true", nil, "", "victim")
	if !s.Cancel(queued) {
		t.Fatal("cancel of queued entry failed")
	}
	rec, _ := s.Status(queued)
	if rec.State != proc.StateCancelled {
		t.Fatalf("queued victim state: %s", rec.State)
	}
	s.StopAll()
	waitTerminal(t, s, blocker)
	for _, id := range col.snapshot().started {
		if id == "victim" {
			t.Fatal("cancelled queued entry must never start")
		}
	}
}

func TestCancelRunning(t *testing.T) {
	s, _ := newTestSup(t, Config{MaxConcurrent: 1, StopGrace: 500 * time.Millisecond})
	id := s.Enqueue("sleep 30", nil, "", "")
	waitCond(t, 2*time.Second, func() bool {
		rec, ok := s.Status(id)
		return ok && rec.State == proc.StateRunning
	})
	if !s.Cancel(id) {
		t.Fatal("cancel failed")
	}
	rec := waitTerminal(t, s, id)
	if rec.State != proc.StateCancelled {
		t.Fatalf("state: %s, want cancelled", rec.State)
	}
	// A killed process has no meaningful exit code; only Finished/Failed
	// carry one.
	if rec.ExitCode != 0 {
		t.Fatalf("cancelled record carries exit code %d", rec.ExitCode)
	}
}

func TestTerminalIsIdempotent(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1, StopGrace: 500 * time.Millisecond})
	var mu sync.Mutex
	cancelEvents := 0
	bus.Subscribe(func(e events.ProcessCancelledEvent) {
		mu.Lock()
		cancelEvents++
		mu.Unlock()
	})

	id := s.Enqueue("sleep 30", nil, "", "")
	waitCond(t, 2*time.Second, func() bool {
		rec, ok := s.Status(id)
		return ok && rec.State == proc.StateRunning
	})
	if !s.Cancel(id) {
		t.Fatal("first cancel failed")
	}
	if s.Cancel(id) {
		t.Fatal("second cancel while pending must report false")
	}
	waitTerminal(t, s, id)
	if s.Cancel(id) {
		t.Fatal("cancel after terminal must report false")
	}
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if cancelEvents != 1 {
		t.Fatalf("cancelled event fired %d times, want 1", cancelEvents)
	}
}

func TestStartImmediatelyRespectsCap(t *testing.T) {
	s, _ := newTestSup(t, Config{MaxConcurrent: 1})
	id := s.Enqueue("sleep 30", nil, "", "")
	waitCond(t, 2*time.Second, func() bool {
		rec, ok := s.Status(id)
		return ok && rec.State == proc.StateRunning
	})
	if s.StartImmediately("bypass", "true", nil, "") {
		t.Fatal("bypass must fail while the cap is saturated")
	}
	s.StopAll()
	waitTerminal(t, s, id)
	if !s.StartImmediately("bypass2", "true", nil, "") {
		t.Fatal("bypass should succeed with a free slot")
	}
	waitTerminal(t, s, "bypass2")
}

func TestDuplicateIDRejected(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	errCh := make(chan events.SupervisorErrorEvent, 2)
	bus.Subscribe(func(e events.SupervisorErrorEvent) { errCh <- e })
	if id := s.Enqueue("true", nil, "", "same"); id != "same" {
		t.Fatalf("first enqueue: %q", id)
	}
	if id := s.Enqueue("true", nil, "", "same"); id != "" {
		t.Fatalf("duplicate enqueue accepted: %q", id)
	}
	select {
	case e := <-errCh:
		// A rejection is not a spawn failure: the id it names may belong to a
		// process that is alive and well.
		if e.SpawnFailure {
			t.Fatal("duplicate-id rejection flagged as spawn failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no supervisor error event for duplicate id")
	}
	waitTerminal(t, s, "same")
}

func TestOutputErrorAndProgressEvents(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	col := &collector{}
	col.attach(bus)

	id := s.Enqueue(`sh -c 'echo Processing 50%; echo done; echo oops >&2'`, nil, "", "")
	rec := waitTerminal(t, s, id)
	if rec.State != proc.StateFinished {
		t.Fatalf("state: %s", rec.State)
	}
	// Every line precedes the exit on the dispatcher, so once the record is
	// terminal all output events are already in flight.
	waitCond(t, 2*time.Second, func() bool { return len(col.snapshot().outputs) == 2 })
	snap := col.snapshot()
	if len(snap.errors) != 1 || snap.errors[0] != "oops" {
		t.Fatalf("stderr events: %v", snap.errors)
	}
	if len(snap.progress) != 1 || snap.progress[0] != 50 {
		t.Fatalf("progress events: %v", snap.progress)
	}
	if rec.Progress != 50 {
		t.Fatalf("record progress: %d", rec.Progress)
	}
}

func TestSpawnFailureFreesSlot(t *testing.T) {
	s, bus := newTestSup(t, Config{MaxConcurrent: 1})
	errCh := make(chan events.SupervisorErrorEvent, 1)
	bus.Subscribe(func(e events.SupervisorErrorEvent) { errCh <- e })

	bad := s.Enqueue("/no/such/binary", nil, "", "bad")
	good := s.Enqueue("true", nil, "", "good")
	select {
	case e := <-errCh:
		if e.ID != "bad" {
			t.Fatalf("error event for %s", e.ID)
		}
		if !e.SpawnFailure {
			t.Fatal("spawn failure not flagged as such")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no supervisor error event for spawn failure")
	}
	// The failed record is discarded and the slot stays free.
	_ = bad
	waitCond(t, 2*time.Second, func() bool {
		_, ok := s.Status("bad")
		return !ok
	})
	rec := waitTerminal(t, s, good)
	if rec.State != proc.StateFinished {
		t.Fatalf("queue did not drain past the failure: %s", rec.State)
	}
}

func TestRunTimeoutCancels(t *testing.T) {
	s, _ := newTestSup(t, Config{
		MaxConcurrent: 1,
		StopGrace:     300 * time.Millisecond,
		RunTimeout:    200 * time.Millisecond,
	})
	id := s.Enqueue("sleep 30", nil, "", "")
	rec := waitTerminal(t, s, id)
	if rec.State != proc.StateCancelled {
		t.Fatalf("state: %s, want cancelled by run timeout", rec.State)
	}
}

func TestFailedExitCode(t *testing.T) {
	s, _ := newTestSup(t, Config{MaxConcurrent: 1})
	id := s.Enqueue(`sh -c 'exit 7'`, nil, "", "")
	rec := waitTerminal(t, s, id)
	if rec.State != proc.StateFailed || rec.ExitCode != 7 {
		t.Fatalf("state=%s exit=%d, want failed/7", rec.State, rec.ExitCode)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	bus := events.New()
	s := New(Config{MaxConcurrent: 2}, bus)
	s.Enqueue("sleep 30", nil, "", "x")
	s.Enqueue("sleep 30", nil, "", "y")
	s.Enqueue("sleep 30", nil, "", "z")
	s.Close()
	// Operations after Close return zero values instead of blocking.
	if id := s.Enqueue("true", nil, "", ""); id != "" {
		t.Fatalf("enqueue after close: %q", id)
	}
	if _, ok := s.Status("x"); ok {
		t.Fatal("status after close must report not found")
	}
}
