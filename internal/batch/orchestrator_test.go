package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"idmark/internal/config"
	"idmark/internal/history"
	"idmark/internal/hwcodec"
	"idmark/internal/media"
	"idmark/internal/notifications"
	"idmark/internal/pool"
	"idmark/internal/services"
	"idmark/internal/testsupport"
	"idmark/internal/transcode"
)

type fakeCompositor struct {
	mu      sync.Mutex
	calls   []string
	panicOn string
}

func (f *fakeCompositor) WatermarkFile(src, dst string, _ image.Image) error {
	if f.panicOn != "" && filepath.Base(src) == f.panicOn {
		panic("decoder exploded")
	}
	f.mu.Lock()
	f.calls = append(f.calls, src)
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("watermarked"), 0o644)
}

type fakeTranscoder struct {
	mu         sync.Mutex
	converted  []string
	overlaid   []string
	stills     []string
	failGIF    string
	lastCodecs []string
}

func (f *fakeTranscoder) ConvertGIF(_ context.Context, src, dst, codec string, onProgress transcode.ProgressFunc) error {
	f.mu.Lock()
	f.converted = append(f.converted, src)
	f.lastCodecs = append(f.lastCodecs, codec)
	f.mu.Unlock()
	if f.failGIF != "" && filepath.Base(src) == f.failGIF {
		return services.Wrap(services.ErrExternalTool, PhaseGIFs, "ffmpeg", "convert "+src, errors.New("exit status 1"))
	}
	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}
	return os.WriteFile(dst, []byte("mp4"), 0o644)
}

func (f *fakeTranscoder) OverlayVideo(_ context.Context, src, _, dst, _ string, onProgress transcode.ProgressFunc) error {
	f.mu.Lock()
	f.overlaid = append(f.overlaid, src)
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(1)
	}
	return os.WriteFile(dst, []byte("mp4"), 0o644)
}

func (f *fakeTranscoder) OverlayStill(_ context.Context, src, _, dst string) error {
	f.mu.Lock()
	f.stills = append(f.stills, src)
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("still"), 0o644)
}

type fixedCodec struct{ calls, described int }

func (f *fixedCodec) Best(context.Context) hwcodec.Codec {
	f.calls++
	return hwcodec.Codec{Strategy: hwcodec.StrategyNVENC, Name: "h264_nvenc"}
}

func (f *fixedCodec) Describe() []hwcodec.Outcome {
	f.described++
	return []hwcodec.Outcome{{Strategy: hwcodec.StrategyNVENC, Codec: "h264_nvenc", Available: true, Detail: "GPU 0"}}
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []notifications.Summary
	failures  []error
}

func (r *recordingNotifier) NotifyBatchCompleted(_ context.Context, s notifications.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func (r *recordingNotifier) NotifyRunFailed(_ context.Context, err error, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

type countingObserver struct {
	mu       sync.Mutex
	started  []string
	finished int
	progress int
}

func (c *countingObserver) PhaseStarted(phase string, _ []media.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, phase)
}

func (c *countingObserver) JobProgress(string, media.Item, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress++
}

func (c *countingObserver) JobFinished(media.JobResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
}

func (c *countingObserver) PhaseFinished(PhaseSummary) {}

type harness struct {
	cfg        *config.Config
	inputs     string
	compositor *fakeCompositor
	transcoder *fakeTranscoder
	codecs     *fixedCodec
	notifier   *recordingNotifier
	observer   *countingObserver
	logs       *bytes.Buffer
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.WritePNG(t, cfg.Paths.Watermark, 4, 4, color.White)
	return &harness{
		cfg:        cfg,
		inputs:     filepath.Join(testsupport.BaseDir(cfg), "drop"),
		compositor: &fakeCompositor{},
		transcoder: &fakeTranscoder{},
		codecs:     &fixedCodec{},
		notifier:   &recordingNotifier{},
		observer:   &countingObserver{},
		logs:       &bytes.Buffer{},
	}
}

func (h *harness) orchestrator(t *testing.T, store HistoryRecorder) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Config:     h.cfg,
		Compositor: h.compositor,
		Transcoder: h.transcoder,
		Codecs:     h.codecs,
		History:    store,
		Notifier:   h.notifier,
		Observer:   h.observer,
		Logger:     slog.New(slog.NewJSONHandler(h.logs, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// input creates a file under the drop directory and returns its path.
func (h *harness) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.inputs, name)
	testsupport.WriteFile(t, path, 16)
	return path
}

func outcomeCounts(results []media.JobResult) map[media.Outcome]int {
	counts := map[media.Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}

func TestRunBatchMixedScenario(t *testing.T) {
	h := newHarness(t)
	var paths []string
	for i := 0; i < 10; i++ {
		paths = append(paths, h.input(t, fmt.Sprintf("photo%02d.png", i)))
	}
	paths = append(paths, h.input(t, "clip1.mp4"), h.input(t, "clip2.mov"))
	missing := filepath.Join(h.inputs, "gone.mkv")
	paths = append(paths, missing)
	paths = append(paths, h.input(t, "dance.gif"), h.input(t, "wave.gif"))

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), paths)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	counts := outcomeCounts(report.Items)
	if counts[media.OutcomeSuccess] != 14 || counts[media.OutcomeFailed] != 1 || len(report.Excluded) != 0 {
		t.Fatalf("unexpected outcomes: %v excluded=%d", counts, len(report.Excluded))
	}
	if len(report.Items) != 15 {
		t.Fatalf("expected one final result per input, got %d", len(report.Items))
	}
	for i, r := range report.Items {
		if r.Item.ID != i+1 {
			t.Fatalf("results not sorted by id: position %d has id %d", i, r.Item.ID)
		}
	}

	failures := report.Failures()
	if len(failures) != 1 || failures[0].Item.SourcePath != missing {
		t.Fatalf("expected missing video to fail, got %+v", failures)
	}
	if !errors.Is(failures[0].Reason, services.ErrPrecondition) || failures[0].Phase != PhaseVideos {
		t.Fatalf("unexpected failure %v in %s", failures[0].Reason, failures[0].Phase)
	}

	for _, r := range report.Items {
		if r.Item.Category != media.CategoryAnimated || r.Outcome != media.OutcomeSuccess {
			continue
		}
		if r.Phase != PhaseVideos || filepath.Dir(r.OutputPath) != h.cfg.Paths.VideosDir {
			t.Fatalf("gif should finish in videos phase, got %s -> %s", r.Phase, r.OutputPath)
		}
		if r.Item.SourcePath != filepath.Join(h.inputs, r.Item.DisplayName) {
			t.Fatalf("final result should carry the original item, got %s", r.Item.SourcePath)
		}
	}

	if len(h.transcoder.overlaid) != 4 {
		t.Fatalf("expected 2 intermediates and 2 videos overlaid, got %v", h.transcoder.overlaid)
	}
	intermediates := 0
	for _, src := range h.transcoder.overlaid {
		if filepath.Dir(src) == h.cfg.Paths.GifsDir {
			intermediates++
		}
	}
	if intermediates != 2 {
		t.Fatalf("phase B must consume every intermediate, got %d", intermediates)
	}
	for _, codec := range h.transcoder.lastCodecs {
		if codec != "h264_nvenc" {
			t.Fatalf("unexpected codec %q", codec)
		}
	}
	if h.codecs.calls != 1 || report.Codec != "h264_nvenc" {
		t.Fatalf("codec should be probed once, got %d calls codec=%q", h.codecs.calls, report.Codec)
	}

	if len(report.Phases) != 3 {
		t.Fatalf("expected 3 phase summaries, got %d", len(report.Phases))
	}
	videos := report.Phases[2]
	if videos.Name != PhaseVideos || videos.Total != 5 || videos.Succeeded != 4 || videos.Failed != 1 {
		t.Fatalf("unexpected videos summary %+v", videos)
	}

	data, err := os.ReadFile(h.cfg.Paths.ErrorLog)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(data), "Error processing "+missing) {
		t.Fatalf("error log missing entry:\n%s", data)
	}

	if len(h.notifier.summaries) != 1 || h.notifier.summaries[0].Succeeded != 14 || h.notifier.summaries[0].Failed != 1 {
		t.Fatalf("unexpected notification %+v", h.notifier.summaries)
	}
	if got := strings.Join(h.observer.started, ","); got != "images,gifs,videos" {
		t.Fatalf("unexpected phase order %q", got)
	}
	if h.observer.finished != 10+2+5 {
		t.Fatalf("expected 17 job events, got %d", h.observer.finished)
	}
}

func TestRunBatchFailedConversionNeverOverlaid(t *testing.T) {
	h := newHarness(t)
	h.transcoder.failGIF = "broken.gif"
	paths := []string{h.input(t, "broken.gif"), h.input(t, "fine.gif")}

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), paths)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(report.Items) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Items))
	}
	broken := report.Items[0]
	if broken.Outcome != media.OutcomeFailed || broken.Phase != PhaseGIFs {
		t.Fatalf("expected conversion failure, got %+v", broken)
	}
	if !errors.Is(broken.Reason, services.ErrExternalTool) {
		t.Fatalf("unexpected reason %v", broken.Reason)
	}
	for _, src := range h.transcoder.overlaid {
		if strings.Contains(src, "broken") {
			t.Fatalf("failed conversion reached overlay: %s", src)
		}
	}
	if report.Items[1].Outcome != media.OutcomeSuccess {
		t.Fatalf("sibling gif should succeed, got %+v", report.Items[1])
	}
}

func TestRunBatchExcludesUnsupportedFiles(t *testing.T) {
	h := newHarness(t)
	notes := h.input(t, "notes.txt")
	photo := h.input(t, "photo.jpg")

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), []string{notes, photo})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(report.Excluded) != 1 || report.Excluded[0].SourcePath != notes {
		t.Fatalf("unexpected exclusions %+v", report.Excluded)
	}
	if len(report.Items) != 1 {
		t.Fatalf("excluded files must not become jobs, got %d results", len(report.Items))
	}
	data, err := os.ReadFile(h.cfg.Paths.UnsupportedLog)
	if err != nil {
		t.Fatalf("read unsupported log: %v", err)
	}
	if string(data) != "Unsupported file format: "+notes+"\n" {
		t.Fatalf("unexpected unsupported log %q", data)
	}
	if h.codecs.calls != 0 {
		t.Fatal("codec probe should not run for a stills-only batch")
	}
}

func TestRunBatchMissingWatermarkIsRunFatal(t *testing.T) {
	h := newHarness(t)
	if err := os.Remove(h.cfg.Paths.Watermark); err != nil {
		t.Fatal(err)
	}
	photo := h.input(t, "photo.png")

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), []string{photo})
	if report != nil {
		t.Fatalf("expected no report, got %+v", report)
	}
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
	if len(h.compositor.calls) != 0 {
		t.Fatal("no job may run after a run-level precondition failure")
	}
	if len(h.notifier.failures) != 1 {
		t.Fatalf("expected run failure notification, got %d", len(h.notifier.failures))
	}
}

func TestRunBatchRefusesConcurrentRun(t *testing.T) {
	h := newHarness(t)
	if err := h.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(h.cfg.Paths.LogDir, lockFileName))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	_, err = h.orchestrator(t, nil).RunBatch(context.Background(), []string{h.input(t, "photo.png")})
	if !errors.Is(err, services.ErrPrecondition) || !strings.Contains(err.Error(), "another idmark run") {
		t.Fatalf("expected lock precondition failure, got %v", err)
	}
}

func TestRunBatchSuffixesCollidingOutputs(t *testing.T) {
	h := newHarness(t)
	first := h.input(t, filepath.Join("a", "photo.png"))
	second := h.input(t, filepath.Join("b", "photo.png"))

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), []string{first, second})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	want := []string{
		filepath.Join(h.cfg.Paths.ImagesDir, "photo.png"),
		filepath.Join(h.cfg.Paths.ImagesDir, "photo-2.png"),
	}
	for i, r := range report.Items {
		if r.OutputPath != want[i] {
			t.Fatalf("item %d output = %s, want %s", r.Item.ID, r.OutputPath, want[i])
		}
	}
}

func TestRunBatchSkipsSourceThatIsItsOutput(t *testing.T) {
	h := newHarness(t)
	if err := h.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	already := filepath.Join(h.cfg.Paths.ImagesDir, "done.png")
	testsupport.WriteFile(t, already, 8)

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), []string{already})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if r := report.Items[0]; r.Outcome != media.OutcomeSkipped || !errors.Is(r.Reason, pool.ErrSkip) {
		t.Fatalf("expected skip, got %+v", r)
	}
	if len(h.compositor.calls) != 0 {
		t.Fatal("skipped item must not be composited")
	}
}

func TestRunBatchJournalsPanicStack(t *testing.T) {
	h := newHarness(t)
	h.compositor.panicOn = "bad.png"
	paths := []string{h.input(t, "bad.png"), h.input(t, "good.png")}

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), paths)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	var panicErr *pool.PanicError
	if !errors.As(report.Items[0].Reason, &panicErr) {
		t.Fatalf("expected recovered panic, got %v", report.Items[0].Reason)
	}
	if report.Items[1].Outcome != media.OutcomeSuccess {
		t.Fatal("panic must not affect siblings")
	}
	data, _ := os.ReadFile(h.cfg.Paths.ErrorLog)
	if !strings.Contains(string(data), "goroutine") || !strings.Contains(string(data), "decoder exploded") {
		t.Fatalf("expected stack in error log:\n%s", data)
	}
}

func TestRunBatchFallsBackToFFmpegForStills(t *testing.T) {
	h := newHarness(t)
	webp := h.input(t, "poster.webp")

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), []string{webp})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(h.transcoder.stills) != 1 || len(h.compositor.calls) != 0 {
		t.Fatalf("expected ffmpeg fallback, stills=%v native=%v", h.transcoder.stills, h.compositor.calls)
	}
	if r := report.Items[0]; r.Outcome != media.OutcomeSuccess || r.Codec != "ffmpeg" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestRunBatchWritesPNGForStillsWithoutEncoder(t *testing.T) {
	h := newHarness(t)
	paths := []string{
		h.input(t, "shot.CR2"),
		h.input(t, "logo.svg"),
		h.input(t, "phone.heic"),
		h.input(t, "poster.webp"),
	}

	report, err := h.orchestrator(t, nil).RunBatch(context.Background(), paths)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	want := []string{"shot.png", "logo.png", "phone.png", "poster.webp"}
	for i, r := range report.Items {
		if r.Outcome != media.OutcomeSuccess {
			t.Fatalf("%s: unexpected outcome %s: %v", r.Item.SourcePath, r.Outcome, r.Reason)
		}
		if got := filepath.Base(r.OutputPath); got != want[i] {
			t.Fatalf("%s written as %s, want %s", r.Item.SourcePath, got, want[i])
		}
	}
}

func TestRunBatchRecordsHistory(t *testing.T) {
	h := newHarness(t, testsupport.WithHistory(10))
	store, err := history.Open(context.Background(), h.cfg.History.Path, h.cfg.History.KeepRuns)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	report, err := h.orchestrator(t, store).RunBatch(context.Background(), []string{h.input(t, "photo.png"), h.input(t, "clip.mp4")})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	runs, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Succeeded != 2 || runs[0].Codec != "h264_nvenc" {
		t.Fatalf("unexpected history %+v", runs)
	}
	results, err := store.Results(context.Background(), report.RunID)
	if err != nil || len(results) != 2 {
		t.Fatalf("expected 2 stored results, got %v %v", results, err)
	}
}

func TestRunBatchCancelledSkipsRemainingWork(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orchestrator(t, nil).RunBatch(ctx, []string{h.input(t, "photo.png"), h.input(t, "clip.mp4")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report == nil || len(report.Items) != 2 {
		t.Fatalf("expected partial report with 2 items, got %+v", report)
	}
	for _, r := range report.Items {
		if r.Outcome != media.OutcomeSkipped {
			t.Fatalf("expected skipped, got %+v", r)
		}
	}
	if len(h.notifier.summaries) != 1 {
		t.Fatal("cancelled run should still be reported")
	}
}

func TestRunBatchLogsCodecProbeSummaryOnce(t *testing.T) {
	h := newHarness(t)
	paths := []string{h.input(t, "a.mp4"), h.input(t, "b.gif"), h.input(t, "c.mov")}

	if _, err := h.orchestrator(t, nil).RunBatch(context.Background(), paths); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if h.codecs.calls != 1 || h.codecs.described != 1 {
		t.Fatalf("expected one probe and one summary, got best=%d describe=%d", h.codecs.calls, h.codecs.described)
	}
	logs := h.logs.String()
	if strings.Count(logs, `"msg":"codec probe summary"`) != 1 {
		t.Fatalf("expected a single probe summary line:\n%s", logs)
	}
	for _, want := range []string{`"hardware":true`, `"probe_nvenc":"available"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("probe summary missing %s:\n%s", want, logs)
		}
	}
}
