// Package pool runs one job per media item with bounded concurrency.
//
// RunAll is a barrier: it returns only after every item has a terminal
// result, and it always returns exactly one result per item. A failing or
// panicking job becomes a Failed result and never disturbs its siblings.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"idmark/internal/logging"
	"idmark/internal/media"
	"idmark/internal/services"
)

// DefaultLimit is the concurrency bound used when a caller passes a
// non-positive limit.
const DefaultLimit = 8

// ErrSkip marks a job that had nothing to do. Wrap it to give a reason.
var ErrSkip = errors.New("skipped")

// Output is what a successful job produced.
type Output struct {
	Path  string
	Codec string
}

// JobFunc processes one item. Returning an error wrapping ErrSkip yields a
// Skipped result; any other error yields Failed.
type JobFunc func(ctx context.Context, item media.Item) (Output, error)

// PanicError carries a recovered job panic and the goroutine stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

type settings struct {
	phase    string
	logger   *slog.Logger
	onResult func(media.JobResult)
}

// Option configures RunAll.
type Option func(*settings)

// WithPhase labels results and log lines with the phase name.
func WithPhase(phase string) Option {
	return func(s *settings) { s.phase = phase }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResultHook registers fn to observe each result as it completes. fn is
// called from worker goroutines and must be safe for concurrent use.
func WithResultHook(fn func(media.JobResult)) Option {
	return func(s *settings) { s.onResult = fn }
}

// RunAll executes job for every item, at most limit at a time, and returns
// the results sorted by item ID. Items not yet admitted when ctx is cancelled
// are returned as Skipped.
func RunAll(ctx context.Context, items []media.Item, limit int, job JobFunc, opts ...Option) []media.JobResult {
	cfg := settings{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.NewComponentLogger(cfg.logger, "pool")
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx = services.WithPhase(ctx, cfg.phase)

	var (
		mu      sync.Mutex
		results = make([]media.JobResult, 0, len(items))
		wg      sync.WaitGroup
		sem     = semaphore.NewWeighted(int64(limit))
	)
	record := func(result media.JobResult) {
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
		if cfg.onResult != nil {
			cfg.onResult(result)
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(media.Skipped(item, cfg.phase, err))
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			record(media.Skipped(item, cfg.phase, err))
			continue
		}
		wg.Add(1)
		go func(item media.Item) {
			defer wg.Done()
			defer sem.Release(1)
			record(runJob(ctx, item, job, cfg))
		}(item)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Item.ID < results[j].Item.ID
	})
	return results
}

func runJob(ctx context.Context, item media.Item, job JobFunc, cfg settings) (result media.JobResult) {
	ctx = services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(ctx, cfg.logger)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			panicErr := &PanicError{Value: r, Stack: debug.Stack()}
			result = media.Failed(item, cfg.phase, panicErr, started)
			logging.ErrorWithContext(logger, "job panicked", "job_panic",
				logging.String("file", item.DisplayName),
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "see error log for the stack trace"),
			)
		}
	}()

	out, err := job(ctx, item)
	switch {
	case err == nil:
		result = media.Succeeded(item, cfg.phase, out.Path, started).WithCodec(out.Codec)
		logger.Info("job finished",
			logging.String("file", item.DisplayName),
			logging.String("output", out.Path),
			logging.String("codec", out.Codec),
			logging.Duration("elapsed", result.Duration),
			logging.String(logging.FieldEventType, "job_succeeded"),
		)
	case errors.Is(err, ErrSkip):
		result = media.Skipped(item, cfg.phase, err)
		logger.Info("job skipped",
			logging.String("file", item.DisplayName),
			logging.String("reason", err.Error()),
			logging.String(logging.FieldEventType, "job_skipped"),
		)
	default:
		result = media.Failed(item, cfg.phase, err, started).WithCodec(out.Codec)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String("file", item.DisplayName),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Kind(err)),
		)
	}
	return result
}
