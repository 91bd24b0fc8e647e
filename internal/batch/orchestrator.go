package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"idmark/internal/config"
	"idmark/internal/fileutil"
	"idmark/internal/history"
	"idmark/internal/hwcodec"
	"idmark/internal/imaging"
	"idmark/internal/journal"
	"idmark/internal/logging"
	"idmark/internal/media"
	"idmark/internal/notifications"
	"idmark/internal/pool"
	"idmark/internal/services"
	"idmark/internal/transcode"
)

// Compositor watermarks a still image in process.
type Compositor interface {
	WatermarkFile(src, dst string, watermark image.Image) error
}

// Transcoder runs the ffmpeg-backed jobs.
type Transcoder interface {
	ConvertGIF(ctx context.Context, src, dst, codec string, onProgress transcode.ProgressFunc) error
	OverlayVideo(ctx context.Context, src, watermark, dst, codec string, onProgress transcode.ProgressFunc) error
	OverlayStill(ctx context.Context, src, watermark, dst string) error
}

// CodecSelector picks the video encoder for the run. Describe reports the
// probe outcomes behind the last Best call.
type CodecSelector interface {
	Best(ctx context.Context) hwcodec.Codec
	Describe() []hwcodec.Outcome
}

// HistoryRecorder persists finished runs.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Observer receives live batch events, typically for a progress display.
// Methods are called from worker goroutines and must be safe for concurrent use.
type Observer interface {
	PhaseStarted(phase string, items []media.Item)
	JobProgress(phase string, item media.Item, fraction float64)
	JobFinished(result media.JobResult)
	PhaseFinished(summary PhaseSummary)
}

// Options wires an Orchestrator. Config, Compositor and Transcoder are
// required; the rest fall back to inert defaults.
type Options struct {
	Config     *config.Config
	Logger     *slog.Logger
	Compositor Compositor
	Transcoder Transcoder
	Codecs     CodecSelector
	History    HistoryRecorder
	Notifier   notifications.Service
	Observer   Observer
	// LoadWatermark overrides imaging.LoadWatermark.
	LoadWatermark func(path string) (image.Image, error)
	// CanRender overrides imaging.CanRender.
	CanRender func(path string) bool
}

// Orchestrator runs batches. It is safe to reuse across sequential runs.
type Orchestrator struct {
	cfg           *config.Config
	logger        *slog.Logger
	compositor    Compositor
	transcoder    Transcoder
	codecs        CodecSelector
	history       HistoryRecorder
	notifier      notifications.Service
	observer      Observer
	loadWatermark func(string) (image.Image, error)
	canRender     func(string) bool
	errors        *journal.Journal
	unsupported   *journal.Journal
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("batch: config required")
	}
	if opts.Compositor == nil || opts.Transcoder == nil {
		return nil, errors.New("batch: compositor and transcoder required")
	}
	o := &Orchestrator{
		cfg:           opts.Config,
		logger:        logging.NewComponentLogger(opts.Logger, "batch"),
		compositor:    opts.Compositor,
		transcoder:    opts.Transcoder,
		codecs:        opts.Codecs,
		history:       opts.History,
		notifier:      opts.Notifier,
		observer:      opts.Observer,
		loadWatermark: opts.LoadWatermark,
		canRender:     opts.CanRender,
		errors:        journal.Open(opts.Config.Paths.ErrorLog),
		unsupported:   journal.Open(opts.Config.Paths.UnsupportedLog),
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(nil)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.loadWatermark == nil {
		o.loadWatermark = imaging.LoadWatermark
	}
	if o.canRender == nil {
		o.canRender = imaging.CanRender
	}
	return o, nil
}

// RunBatch watermarks paths. A non-nil error with a nil report means a
// run-level precondition failed and no job ran. When ctx is cancelled midway
// the partial report is returned together with the context error.
func (o *Orchestrator) RunBatch(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	ctx = services.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, o.logger)

	watermark, lock, err := o.preconditions()
	if err != nil {
		logging.ErrorWithContext(logger, "batch preconditions failed", "batch_precondition",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Kind(err)),
		)
		o.journalError("Batch aborted", err)
		if notifyErr := o.notifier.NotifyRunFailed(ctx, err, "preconditions"); notifyErr != nil {
			logger.Debug("run failure notification not sent", logging.Error(notifyErr))
		}
		return nil, err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logger.Warn("workspace lock release failed", logging.Error(unlockErr))
		}
	}()

	items := media.Ingest(paths)
	var images, gifs, videos []media.Item
	for _, item := range items {
		switch item.Category {
		case media.CategoryImage:
			images = append(images, item)
		case media.CategoryAnimated:
			gifs = append(gifs, item)
		case media.CategoryVideo:
			videos = append(videos, item)
		default:
			report.Excluded = append(report.Excluded, item)
			if err := o.unsupported.RecordUnsupported(item.SourcePath); err != nil {
				logger.Warn("unsupported journal write failed", logging.Error(err))
			}
			logger.Info("file excluded",
				logging.String("file", item.DisplayName),
				logging.String(logging.FieldEventType, "file_unsupported"),
			)
		}
	}
	logger.Info("batch started",
		logging.Int("images", len(images)),
		logging.Int("gifs", len(gifs)),
		logging.Int("videos", len(videos)),
		logging.Int("excluded", len(report.Excluded)),
		logging.String(logging.FieldEventType, "batch_started"),
	)

	names := o.planOutputs(images, gifs, videos)
	final := make(map[int]media.JobResult, len(items))
	originals := make(map[int]media.Item, len(items))
	for _, item := range items {
		originals[item.ID] = item
	}

	imageResults := o.runPhase(ctx, PhaseImages, images, report, o.imageJob(watermark, names))
	for _, result := range imageResults {
		final[result.Item.ID] = result
	}

	if len(gifs)+len(videos) > 0 {
		codec := o.selectCodec(ctx)
		report.Codec = codec.Name

		gifResults := o.runPhase(ctx, PhaseGIFs, gifs, report, o.convertJob(codec.Name, names))
		overlayItems := make([]media.Item, 0, len(gifs)+len(videos))
		for _, result := range gifResults {
			if result.Outcome == media.OutcomeSuccess {
				overlayItems = append(overlayItems, result.Item.Derive(result.OutputPath))
				continue
			}
			final[result.Item.ID] = result
		}
		overlayItems = append(overlayItems, videos...)
		sortItems(overlayItems)

		videoResults := o.runPhase(ctx, PhaseVideos, overlayItems, report, o.overlayJob(codec.Name, names))
		for _, result := range videoResults {
			final[result.Item.ID] = result
		}
	}

	for _, item := range items {
		result, ok := final[item.ID]
		if !ok {
			continue
		}
		result.Item = originals[item.ID]
		report.Items = append(report.Items, result)
	}
	report.Duration = time.Since(report.Started)

	succeeded, failed, skipped := report.Counts()
	logger.Info("batch finished",
		logging.Int("succeeded", succeeded),
		logging.Int("failed", failed),
		logging.Int("skipped", skipped),
		logging.Int("excluded", len(report.Excluded)),
		logging.Duration("elapsed", report.Duration),
		logging.String(logging.FieldEventType, "batch_finished"),
	)

	o.finish(context.WithoutCancel(ctx), logger, report)
	return report, ctx.Err()
}

func (o *Orchestrator) preconditions() (image.Image, *flock.Flock, error) {
	watermark, err := o.loadWatermark(o.cfg.Paths.Watermark)
	if err != nil {
		if !errors.Is(err, services.ErrPrecondition) {
			err = services.Wrap(services.ErrPrecondition, "", "load watermark", o.cfg.Paths.Watermark, err)
		}
		return nil, nil, err
	}
	if err := o.cfg.EnsureDirectories(); err != nil {
		return nil, nil, services.Wrap(services.ErrPrecondition, "", "prepare outputs", "", err)
	}
	lock, err := acquireLock(o.cfg.Paths.LogDir)
	if err != nil {
		return nil, nil, err
	}
	return watermark, lock, nil
}

// planOutputs claims every destination up front, in phase then ID order, so
// collision suffixes do not depend on job completion order.
func (o *Orchestrator) planOutputs(images, gifs, videos []media.Item) *outputNames {
	names := newOutputNames()
	for _, item := range images {
		stem, ext := splitName(item.SourcePath)
		names.claim(PhaseImages, item.ID, o.cfg.Paths.ImagesDir, stem, stillOutputExt(ext))
	}
	for _, item := range gifs {
		names.claim(PhaseGIFs, item.ID, o.cfg.Paths.GifsDir, item.Stem(), ".mp4")
	}
	overlay := append(append([]media.Item(nil), gifs...), videos...)
	sortItems(overlay)
	for _, item := range overlay {
		names.claim(PhaseVideos, item.ID, o.cfg.Paths.VideosDir, item.Stem(), ".mp4")
	}
	return names
}

func (o *Orchestrator) selectCodec(ctx context.Context) hwcodec.Codec {
	if o.codecs == nil {
		return hwcodec.Codec{Strategy: hwcodec.StrategySoftware, Name: hwcodec.SoftwareCodec}
	}
	codec := o.codecs.Best(ctx)
	attrs := []any{
		logging.String("codec", codec.Name),
		logging.Bool("hardware", codec.Hardware()),
		logging.String(logging.FieldEventType, "codec_probe_summary"),
	}
	for _, outcome := range o.codecs.Describe() {
		status := "available"
		if !outcome.Available {
			status = "unavailable: " + outcome.Detail
		}
		attrs = append(attrs, logging.String("probe_"+outcome.Strategy, status))
	}
	logging.WithContext(ctx, o.logger).Info("codec probe summary", attrs...)
	return codec
}

func (o *Orchestrator) runPhase(ctx context.Context, phase string, items []media.Item, report *Report, job pool.JobFunc) []media.JobResult {
	if len(items) == 0 {
		return nil
	}
	if err := o.cfg.EnsureDirectories(); err != nil {
		logging.WarnWithContext(o.logger, "output directories unavailable", "phase_outputs",
			logging.String(logging.FieldPhase, phase),
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs in this phase will fail to write"),
		)
	}
	o.observer.PhaseStarted(phase, items)
	started := time.Now()
	results := pool.RunAll(ctx, items, o.cfg.Pool.MaxConcurrency, job,
		pool.WithPhase(phase),
		pool.WithLogger(logging.WithContext(ctx, o.logger)),
		pool.WithResultHook(func(result media.JobResult) {
			if result.Outcome == media.OutcomeFailed {
				o.journalError(fmt.Sprintf("Error processing %s", result.Item.OriginPath()), result.Reason)
			}
			o.observer.JobFinished(result)
		}),
	)
	summary := summarize(phase, results, time.Since(started))
	report.Phases = append(report.Phases, summary)
	o.observer.PhaseFinished(summary)
	return results
}

func (o *Orchestrator) imageJob(watermark image.Image, names *outputNames) pool.JobFunc {
	return func(ctx context.Context, item media.Item) (pool.Output, error) {
		dst, err := o.prepareJob(PhaseImages, item, names)
		if err != nil {
			return pool.Output{}, err
		}
		if o.canRender(item.SourcePath) {
			if err := o.compositor.WatermarkFile(item.SourcePath, dst, watermark); err != nil {
				return pool.Output{}, fmt.Errorf("composite %s: %w", item.DisplayName, err)
			}
			return pool.Output{Path: dst, Codec: "native"}, nil
		}
		if err := o.transcoder.OverlayStill(ctx, item.SourcePath, o.cfg.Paths.Watermark, dst); err != nil {
			return pool.Output{}, err
		}
		return pool.Output{Path: dst, Codec: "ffmpeg"}, nil
	}
}

func (o *Orchestrator) convertJob(codec string, names *outputNames) pool.JobFunc {
	return func(ctx context.Context, item media.Item) (pool.Output, error) {
		dst, err := o.prepareJob(PhaseGIFs, item, names)
		if err != nil {
			return pool.Output{}, err
		}
		onProgress := func(fraction float64) { o.observer.JobProgress(PhaseGIFs, item, fraction) }
		if err := o.transcoder.ConvertGIF(ctx, item.SourcePath, dst, codec, onProgress); err != nil {
			return pool.Output{Codec: codec}, err
		}
		return pool.Output{Path: dst, Codec: codec}, nil
	}
}

func (o *Orchestrator) overlayJob(codec string, names *outputNames) pool.JobFunc {
	return func(ctx context.Context, item media.Item) (pool.Output, error) {
		dst, err := o.prepareJob(PhaseVideos, item, names)
		if err != nil {
			return pool.Output{}, err
		}
		onProgress := func(fraction float64) { o.observer.JobProgress(PhaseVideos, item, fraction) }
		if err := o.transcoder.OverlayVideo(ctx, item.SourcePath, o.cfg.Paths.Watermark, dst, codec, onProgress); err != nil {
			return pool.Output{Codec: codec}, err
		}
		return pool.Output{Path: dst, Codec: codec}, nil
	}
}

// prepareJob re-checks the source and resolves the destination. A source that
// already is its destination has nothing to do.
func (o *Orchestrator) prepareJob(phase string, item media.Item, names *outputNames) (string, error) {
	info, err := os.Stat(item.SourcePath)
	if err != nil {
		return "", services.Wrap(services.ErrPrecondition, phase, "check source", item.SourcePath, err)
	}
	if info.IsDir() {
		return "", services.Wrap(services.ErrPrecondition, phase, "check source", "is a directory: "+item.SourcePath, nil)
	}
	dst := names.lookup(phase, item.ID)
	if dst == "" {
		return "", fmt.Errorf("no output planned for item %d in %s", item.ID, phase)
	}
	if fileutil.SameFile(item.SourcePath, dst) {
		return "", fmt.Errorf("%w: source is already the output %s", pool.ErrSkip, dst)
	}
	return dst, nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, report *Report) {
	if o.history != nil {
		if err := o.history.Record(ctx, report.HistoryRun()); err != nil {
			logging.WarnWithContext(logger, "run history not saved", "history_write",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run will be missing from --history"),
			)
		}
	}
	if err := o.notifier.NotifyBatchCompleted(ctx, report.Summary()); err != nil {
		logging.WarnWithContext(logger, "completion notification failed", "notify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (o *Orchestrator) journalError(message string, err error) {
	if jerr := o.errors.RecordError(message, err); jerr != nil {
		o.logger.Warn("error journal write failed", logging.Error(jerr))
	}
}

func sortItems(items []media.Item) {
	slices.SortFunc(items, func(a, b media.Item) int { return cmp.Compare(a.ID, b.ID) })
}

type nopObserver struct{}

func (nopObserver) PhaseStarted(string, []media.Item)       {}
func (nopObserver) JobProgress(string, media.Item, float64) {}
func (nopObserver) JobFinished(media.JobResult)             {}
func (nopObserver) PhaseFinished(PhaseSummary)              {}
