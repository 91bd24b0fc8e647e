package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"idmark/internal/logging"
	"idmark/internal/services"
)

const (
	defaultWatchdogInterval = time.Second
	defaultWaitDelay        = 5 * time.Second
	stderrTailLines         = 8
	maxLineBytes            = 1 << 20
)

// State is the lifecycle position of a supervised process.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "not_started"
	}
}

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Timeout bounds the run when positive. Expiry reports services.ErrTimeout.
	Timeout time.Duration
}

// Sinks receive output lines as they arrive. Nil sinks discard.
type Sinks struct {
	Stdout func(line string)
	Stderr func(line string)
}

// ExitStatus summarizes a finished process.
type ExitStatus struct {
	Code     int
	Duration time.Duration
}

// LivenessFunc reports whether the supervising process is still alive.
type LivenessFunc func() bool

// Supervisor starts and watches child processes.
type Supervisor struct {
	registry *Registry
	interval time.Duration
	alive    LivenessFunc
	logger   *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRegistry shares a registry across supervisors.
func WithRegistry(r *Registry) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithWatchdogInterval sets the liveness check cadence.
func WithWatchdogInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLiveness replaces the default parent liveness probe.
func WithLiveness(fn LivenessFunc) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.alive = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Supervisor. By default the watchdog checks every second
// whether this process is alive.
func New(opts ...Option) *Supervisor {
	self := os.Getpid()
	s := &Supervisor{
		registry: NewRegistry(),
		interval: defaultWatchdogInterval,
		alive:    func() bool { return ProcessAlive(self) },
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "supervisor")
	return s
}

// Registry returns the registry tracking this supervisor's children.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Run starts command and waits for it.
func (s *Supervisor) Run(ctx context.Context, command Command, sinks Sinks) (ExitStatus, error) {
	proc, err := s.Start(ctx, command, sinks)
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	return proc.Wait()
}

// Process is a running or finished child.
type Process struct {
	name    string
	cmd     *exec.Cmd
	state   atomic.Int32
	started time.Time

	// gate orders sink delivery against the watchdog's liveness decision.
	gate          sync.RWMutex
	watchdogFired atomic.Bool
	done          chan struct{}
	status        ExitStatus
	err           error
}

// Name returns the executable name.
func (p *Process) Name() string { return p.name }

// Pid returns the child's process ID, or 0 before start.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

// Kill terminates the child's process group.
func (p *Process) Kill() error {
	if p.State() != StateRunning {
		return os.ErrProcessDone
	}
	return killGroup(p.Pid())
}

// Done is closed once the process has exited and its watchdog has stopped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns its status.
func (p *Process) Wait() (ExitStatus, error) {
	<-p.done
	return p.status, p.err
}

// Start launches command. The returned Process is already tracked in the
// registry and watched; callers must call Wait.
func (s *Supervisor) Start(ctx context.Context, command Command, sinks Sinks) (*Process, error) {
	if command.Name == "" {
		return nil, services.Wrap(services.ErrPrecondition, "", "supervisor", "empty command", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
	}

	proc := &Process{name: command.Name, done: make(chan struct{})}
	cmd := exec.CommandContext(runCtx, command.Name, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	configureChild(cmd)
	cmd.Cancel = func() error { return killGroup(cmd.Process.Pid) }
	cmd.WaitDelay = defaultWaitDelay
	proc.cmd = cmd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		proc.state.Store(int32(StateFailed))
		return nil, services.Wrap(services.ErrExternalTool, "", command.Name, "start", err)
	}
	proc.started = time.Now()
	proc.state.Store(int32(StateRunning))
	s.registry.track(proc)
	s.logger.Debug("child started", logging.String("command", command.Name), logging.Int("pid", proc.Pid()))

	tail := newLineTail(stderrTailLines)
	var readers sync.WaitGroup
	readers.Add(2)
	go proc.streamLines(&readers, stdout, sinks.Stdout, nil)
	go proc.streamLines(&readers, stderr, sinks.Stderr, tail)

	stopWatchdog := make(chan struct{})
	watchdogDone := make(chan struct{})
	go s.watch(proc, stopWatchdog, watchdogDone)

	go func() {
		defer cancel()
		readers.Wait()
		waitErr := cmd.Wait()
		close(stopWatchdog)
		<-watchdogDone
		s.registry.untrack(proc)
		proc.finish(ctx, runCtx, command, waitErr, tail.lines())
		close(proc.done)
	}()

	return proc, nil
}

// watch kills the child when the supervisor stops being alive. It returns
// after the first kill or when stop closes.
func (s *Supervisor) watch(proc *Process, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.checkAlive(proc) {
				continue
			}
			err := killGroup(proc.Pid())
			logging.WarnWithContext(s.logger, "supervisor not alive; killed child", "watchdog_termination",
				logging.String("command", proc.name),
				logging.Int("pid", proc.Pid()),
				logging.Any("kill_error", err),
				logging.String(logging.FieldImpact, "job fails and its output is discarded"),
			)
			return
		}
	}
}

// checkAlive runs the liveness probe with sink delivery paused, so no line
// reaches a sink once the probe has reported the supervisor dead.
func (s *Supervisor) checkAlive(proc *Process) bool {
	proc.gate.Lock()
	defer proc.gate.Unlock()
	if s.alive() {
		return true
	}
	proc.watchdogFired.Store(true)
	return false
}

func (p *Process) finish(parent, runCtx context.Context, command Command, waitErr error, tail []string) {
	p.status = ExitStatus{Code: 0, Duration: time.Since(p.started)}
	if waitErr == nil {
		p.state.Store(int32(StateSucceeded))
		return
	}
	p.state.Store(int32(StateFailed))
	p.status.Code = -1

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		p.status.Code = exitErr.ExitCode()
	}

	switch {
	case parent.Err() != nil:
		p.err = parent.Err()
	case p.watchdogFired.Load():
		p.err = fmt.Errorf("%w: %s", ErrWatchdogTermination, command.Name)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		p.err = services.Wrap(services.ErrTimeout, "", command.Name,
			fmt.Sprintf("exceeded %s", command.Timeout), waitErr)
	case exitErr != nil && p.status.Code >= 0:
		p.err = &ExitError{Command: command.Name, Code: p.status.Code, Tail: tail}
	default:
		p.err = services.Wrap(services.ErrExternalTool, "", command.Name, "wait", waitErr)
	}
}

func (p *Process) streamLines(wg *sync.WaitGroup, r io.Reader, sink func(string), tail *lineTail) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if tail != nil {
			tail.add(line)
		}
		p.deliver(sink, line)
	}
	// Drain so the child never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, r)
}

// deliver hands line to sink unless the watchdog has fired. Output read
// after termination is dropped while the pipe keeps draining.
func (p *Process) deliver(sink func(string), line string) {
	if sink == nil {
		return
	}
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.watchdogFired.Load() {
		return
	}
	sink(line)
}

// scanStatusLines splits on \n and on bare \r, which ffmpeg uses to rewrite
// its status line in place.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type lineTail struct {
	mu    sync.Mutex
	max   int
	items []string
}

func newLineTail(max int) *lineTail { return &lineTail{max: max} }

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, line)
	if len(t.items) > t.max {
		t.items = t.items[len(t.items)-t.max:]
	}
}

func (t *lineTail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}
