package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"idmark/internal/batch"
	"idmark/internal/media"
)

type trackerKey struct {
	phase string
	id    int
}

// progressView draws one tracker per job while a batch runs. It is inert when
// the output is not a terminal so piped output stays clean.
type progressView struct {
	enabled bool
	writer  progress.Writer

	mu       sync.Mutex
	trackers map[trackerKey]*progress.Tracker
	stopped  bool
}

var _ batch.Observer = (*progressView)(nil)

func newProgressView(out io.Writer) *progressView {
	view := &progressView{
		enabled:  shouldColorize(out),
		trackers: make(map[trackerKey]*progress.Tracker),
	}
	if !view.enabled {
		return view
	}
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(25)
	pw.SetMessageLength(40)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.Value = false
	pw.Style().Visibility.ETA = true
	view.writer = pw
	go pw.Render()
	return view
}

func (v *progressView) PhaseStarted(phase string, items []media.Item) {
	if !v.enabled {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range items {
		tracker := &progress.Tracker{
			Message: fmt.Sprintf("[%s] %s", phaseTitle(phase), item.DisplayName),
			Total:   100,
			Units:   progress.UnitsDefault,
		}
		v.trackers[trackerKey{phase: phase, id: item.ID}] = tracker
		v.writer.AppendTracker(tracker)
	}
}

func (v *progressView) JobProgress(phase string, item media.Item, fraction float64) {
	if tracker := v.tracker(phase, item.ID); tracker != nil {
		tracker.SetValue(int64(fraction * 100))
	}
}

func (v *progressView) JobFinished(result media.JobResult) {
	tracker := v.tracker(result.Phase, result.Item.ID)
	if tracker == nil {
		return
	}
	if result.Outcome == media.OutcomeFailed {
		tracker.MarkAsErrored()
		return
	}
	tracker.SetValue(100)
	tracker.MarkAsDone()
}

func (v *progressView) PhaseFinished(batch.PhaseSummary) {}

// Stop halts rendering and waits briefly for the final frame.
func (v *progressView) Stop() {
	if !v.enabled {
		return
	}
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	v.mu.Unlock()

	v.writer.Stop()
	deadline := time.Now().Add(time.Second)
	for v.writer.IsRenderInProgress() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (v *progressView) tracker(phase string, id int) *progress.Tracker {
	if !v.enabled {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.trackers[trackerKey{phase: phase, id: id}]
}
