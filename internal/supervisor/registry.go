package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"idmark/internal/logging"
)

// Registry tracks the live children of a run.
type Registry struct {
	mu       sync.Mutex
	children map[int]*Process
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{children: make(map[int]*Process)}
}

func (r *Registry) track(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children[p.Pid()] = p
}

func (r *Registry) untrack(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.children[p.Pid()]; ok && current == p {
		delete(r.children, p.Pid())
	}
}

// Len returns the number of tracked children.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

// TerminateAll kills every tracked child. It is best-effort: each failure is
// logged and joined into the returned error, and children that already exited
// are not reported.
func (r *Registry) TerminateAll(logger *slog.Logger) error {
	r.mu.Lock()
	snapshot := make([]*Process, 0, len(r.children))
	for _, p := range r.children {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	if logger == nil {
		logger = logging.NewNop()
	}
	var errs []error
	for _, p := range snapshot {
		err := p.Kill()
		if err == nil || errors.Is(err, os.ErrProcessDone) {
			continue
		}
		logger.Warn("terminate child failed",
			logging.Int("pid", p.Pid()),
			logging.String("command", p.Name()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "terminate_failed"),
		)
		errs = append(errs, fmt.Errorf("kill %s (pid %d): %w", p.Name(), p.Pid(), err))
	}
	if len(snapshot) > 0 {
		logger.Info("terminated child processes", logging.Int("count", len(snapshot)))
	}
	return errors.Join(errs...)
}
