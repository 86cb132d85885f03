package proc

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Proc runs one OS process and pumps its output line by line. A Proc is
// single-shot: Start may be called once; after the exit callback fired the
// value is inert.
type Proc struct {
	spec Spec

	mu        sync.Mutex
	cmd       *exec.Cmd
	waitDone  chan struct{} // closed by the reaper after cmd.Wait returns
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Proc { return &Proc{spec: spec} }

// Spec returns the spec the process was created with.
func (p *Proc) Spec() Spec { return p.spec }

// PID returns the OS pid, or 0 before Start succeeded.
func (p *Proc) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// Start spawns the process. onLine is invoked for every complete output line
// (stderr true for the stderr stream); onExit is invoked exactly once, after
// both streams have been fully drained and the process was reaped. Callbacks
// run on the process's pump/reaper goroutines.
func (p *Proc) Start(onLine func(line string, stderr bool), onExit func(exitCode int, err error)) error {
	cmd := p.spec.BuildCommand()
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	if len(p.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), p.spec.Env...)
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if p.spec.Log.Enabled() {
		if p.spec.Log.Dir != "" {
			_ = os.MkdirAll(p.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := p.spec.Log.Writers(p.spec.ID)
		p.mu.Lock()
		p.outCloser, p.errCloser = outW, errW
		p.mu.Unlock()
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = make(chan struct{})
	p.mu.Unlock()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go p.pump(stdout, false, onLine, &pumps)
	go p.pump(stderr, true, onLine, &pumps)

	go func() {
		// Both pipes must hit EOF before Wait; this also guarantees the
		// terminal callback fires only after all output was delivered.
		pumps.Wait()
		werr := cmd.Wait()
		p.closeWriters()
		p.mu.Lock()
		close(p.waitDone)
		p.mu.Unlock()
		if onExit != nil {
			onExit(exitCodeOf(werr), werr)
		}
	}()
	return nil
}

func (p *Proc) pump(r io.Reader, stderr bool, onLine func(string, bool), wg *sync.WaitGroup) {
	defer wg.Done()
	w := p.mirrorWriter(stderr)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if w != nil {
			_, _ = w.Write(append([]byte(line), '\n'))
		}
		if onLine != nil {
			onLine(line, stderr)
		}
	}
	if sc.Err() != nil {
		// A line over the buffer cap stops the scanner while the child may
		// still be blocked writing to the pipe. Keep draining so the process
		// can exit and Wait returns.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *Proc) mirrorWriter(stderr bool) io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stderr {
		return p.errCloser
	}
	return p.outCloser
}

func (p *Proc) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}

func (p *Proc) waitDoneChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// Exited reports whether the reaper has already observed the process exit.
// The exit callback may still be in flight when this returns true.
func (p *Proc) Exited() bool {
	wd := p.waitDoneChan()
	if wd == nil {
		return false
	}
	select {
	case <-wd:
		return true
	default:
		return false
	}
}

// Stop requests graceful termination: terminate signal to the process group,
// a grace period, then a forced kill. It returns once the reaper confirmed
// the exit or the escalation timed out.
func (p *Proc) Stop(grace time.Duration) {
	pid := p.PID()
	if pid == 0 {
		return
	}
	wd := p.waitDoneChan()
	terminateGroup(pid)
	if wd == nil {
		time.Sleep(grace)
		return
	}
	select {
	case <-wd:
		return
	case <-time.After(grace):
	}
	killGroup(pid)
	select {
	case <-wd:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
}

// Kill force-kills the process group immediately.
func (p *Proc) Kill() {
	pid := p.PID()
	if pid == 0 {
		return
	}
	killGroup(pid)
	if wd := p.waitDoneChan(); wd != nil {
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
}

// exitCodeOf maps a cmd.Wait error to an exit code: 0 for clean exit, the
// process's code for a non-zero exit, -1 when killed by a signal or when the
// error is not an exit status at all.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
