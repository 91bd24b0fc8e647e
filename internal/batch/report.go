package batch

import (
	"time"

	"idmark/internal/history"
	"idmark/internal/media"
	"idmark/internal/notifications"
)

// Phase names, in execution order.
const (
	PhaseImages = "images"
	PhaseGIFs   = "gifs"
	PhaseVideos = "videos"
)

// PhaseSummary counts the outcomes of one phase.
type PhaseSummary struct {
	Name      string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Report is the outcome of a batch. Items holds one final result per
// supported input, sorted by item ID; Excluded holds the inputs the
// classifier rejected.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Codec    string
	Items    []media.JobResult
	Excluded []media.Item
	Phases   []PhaseSummary
}

// Counts returns the final outcome totals across Items.
func (r *Report) Counts() (succeeded, failed, skipped int) {
	for _, result := range r.Items {
		switch result.Outcome {
		case media.OutcomeSuccess:
			succeeded++
		case media.OutcomeFailed:
			failed++
		case media.OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Failures returns the failed final results.
func (r *Report) Failures() []media.JobResult {
	var failed []media.JobResult
	for _, result := range r.Items {
		if result.Outcome == media.OutcomeFailed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Summary converts the report for the notifier.
func (r *Report) Summary() notifications.Summary {
	succeeded, failed, skipped := r.Counts()
	return notifications.Summary{
		RunID:     r.RunID,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Excluded:  len(r.Excluded),
		Duration:  r.Duration,
	}
}

// HistoryRun converts the report for the history store.
func (r *Report) HistoryRun() history.Run {
	succeeded, failed, skipped := r.Counts()
	run := history.Run{
		ID:        r.RunID,
		Started:   r.Started,
		Duration:  r.Duration,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Excluded:  len(r.Excluded),
		Codec:     r.Codec,
		Results:   make([]history.Result, 0, len(r.Items)),
	}
	for _, result := range r.Items {
		entry := history.Result{
			ItemID:     result.Item.ID,
			SourcePath: result.Item.OriginPath(),
			Category:   result.Item.Category.String(),
			Phase:      result.Phase,
			Outcome:    result.Outcome.String(),
			OutputPath: result.OutputPath,
			Duration:   result.Duration,
		}
		if result.Reason != nil {
			entry.Reason = result.Reason.Error()
		}
		run.Results = append(run.Results, entry)
	}
	return run
}

func summarize(name string, results []media.JobResult, elapsed time.Duration) PhaseSummary {
	summary := PhaseSummary{Name: name, Total: len(results), Duration: elapsed}
	for _, result := range results {
		switch result.Outcome {
		case media.OutcomeSuccess:
			summary.Succeeded++
		case media.OutcomeFailed:
			summary.Failed++
		case media.OutcomeSkipped:
			summary.Skipped++
		}
	}
	return summary
}
