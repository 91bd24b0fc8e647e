package media

import (
	"errors"
	"time"
)

// Outcome is the terminal state of a job.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// JobResult is the immutable record of one job. Reason is nil iff Outcome is
// OutcomeSuccess; OutputPath is set iff Outcome is OutcomeSuccess.
type JobResult struct {
	Item       Item
	Outcome    Outcome
	Reason     error
	OutputPath string
	Phase      string
	Codec      string
	Started    time.Time
	Duration   time.Duration
}

// Succeeded records a successful job.
func Succeeded(item Item, phase, output string, started time.Time) JobResult {
	return JobResult{
		Item:       item,
		Outcome:    OutcomeSuccess,
		OutputPath: output,
		Phase:      phase,
		Started:    started,
		Duration:   since(started),
	}
}

// Failed records a failed job. A nil reason is replaced so the invariant holds.
func Failed(item Item, phase string, reason error, started time.Time) JobResult {
	if reason == nil {
		reason = errors.New("job failed without reason")
	}
	return JobResult{
		Item:     item,
		Outcome:  OutcomeFailed,
		Reason:   reason,
		Phase:    phase,
		Started:  started,
		Duration: since(started),
	}
}

// Skipped records a job that never ran or had nothing to do.
func Skipped(item Item, phase string, reason error) JobResult {
	if reason == nil {
		reason = errors.New("skipped")
	}
	return JobResult{
		Item:    item,
		Outcome: OutcomeSkipped,
		Reason:  reason,
		Phase:   phase,
		Started: time.Now(),
	}
}

// WithCodec returns a copy of r annotated with the encoder that produced it.
func (r JobResult) WithCodec(codec string) JobResult {
	r.Codec = codec
	return r
}

func since(started time.Time) time.Duration {
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}
