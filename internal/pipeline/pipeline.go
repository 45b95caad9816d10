package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reel/internal/executor"
	"reel/internal/failure"
	"reel/internal/job"
	"reel/internal/ladder"
	"reel/internal/playlist"
	"reel/internal/probe"
	"reel/internal/progress"
	"reel/internal/segment"
	"reel/internal/storage"
	"reel/internal/thumbnail"
	"reel/internal/transcode"
)

// Phase labels published with progress.
const (
	PhaseDownload     = "Download"
	PhaseAnalysis     = "Analysis"
	PhaseTranscoding  = "Video Transcoding"
	PhaseSegmentation = "HLS Segmentation"
	PhaseUpload       = "Upload"
	PhaseThumbnails   = "Thumbnails"
	PhaseFinalization = "Finalization"
)

type Inspector interface {
	Inspect(ctx context.Context, path string) (*probe.MediaInfo, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, input, output string, p ladder.Profile, durationSeconds float64, reporter progress.Reporter) error
}

type Segmenter interface {
	Segment(ctx context.Context, input, dir, quality string, durationSeconds float64, reporter progress.Reporter) (*segment.Rendition, error)
}

type ThumbnailGenerator interface {
	Generate(ctx context.Context, input, dir string, durationSeconds float64, reporter progress.Reporter) ([]thumbnail.Thumbnail, error)
}

// ProcessedAsset is one uploaded rendition.
type ProcessedAsset struct {
	Quality     string
	PlaylistKey string
	SegmentKeys []string
}

// Attempt describes one run of a job.
type Attempt struct {
	JobID         string
	SourceAssetID string
	OwnerID       string
	WorkDir       string

	// SoftDeadline stops the attempt at the next phase boundary once passed.
	SoftDeadline time.Time

	// Publish receives every progress update. It may be nil.
	Publish func(progress.Update)
}

// Output is what a successful attempt produced.
type Output struct {
	Info       *probe.MediaInfo
	Ladder     []string
	Assets     []ProcessedAsset
	Thumbnails []string
	Result     job.Result
}

type Pipeline struct {
	store      *storage.Store
	inspector  Inspector
	transcoder Transcoder
	segmenter  Segmenter
	thumbnails ThumbnailGenerator
	tracer     trace.Tracer
}

func New(store *storage.Store, inspector Inspector, transcoder Transcoder, segmenter Segmenter, thumbnails ThumbnailGenerator) *Pipeline {
	return &Pipeline{
		store:      store,
		inspector:  inspector,
		transcoder: transcoder,
		segmenter:  segmenter,
		thumbnails: thumbnails,
		tracer:     otel.Tracer("reel/pipeline"),
	}
}

type run struct {
	*Pipeline
	attempt Attempt
	tracker *progress.Tracker
	logger  log.FieldLogger
}

// Run executes one attempt: download, analysis, the rendition loop, the
// master playlist and thumbnails. Every error it returns is classified.
func (p *Pipeline) Run(ctx context.Context, a Attempt) (*Output, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job.id", a.JobID),
		attribute.String("job.asset", a.SourceAssetID),
		attribute.String("job.owner", a.OwnerID),
	))
	defer span.End()

	r := &run{
		Pipeline: p,
		attempt:  a,
		tracker:  progress.NewTracker(a.Publish),
		logger: log.WithFields(log.Fields{
			"job":   a.JobID,
			"asset": a.SourceAssetID,
		}),
	}

	out, err := r.execute(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failure.KindOf(err).String())
		return nil, err
	}

	return out, nil
}

func (r *run) execute(ctx context.Context) (*Output, error) {
	source := filepath.Join(r.attempt.WorkDir, "source")

	if err := r.phase(ctx, "download", func(ctx context.Context) error {
		return r.download(ctx, source)
	}); err != nil {
		return nil, err
	}

	var info *probe.MediaInfo

	if err := r.phase(ctx, "analysis", func(ctx context.Context) (err error) {
		info, err = r.analyse(ctx, source)
		return err
	}); err != nil {
		return nil, err
	}

	out := &Output{Info: info, Ladder: ladder.Select(info.Height)}

	r.logger.WithFields(log.Fields{
		"resolution": fmt.Sprintf("%dx%d", info.Width, info.Height),
		"duration":   info.DurationSeconds,
		"ladder":     out.Ladder,
	}).Info("ladder selected")

	for i, quality := range out.Ladder {
		var asset *ProcessedAsset

		if err := r.phase(ctx, "rendition."+quality, func(ctx context.Context) (err error) {
			asset, err = r.rendition(ctx, source, info.DurationSeconds, quality, i, len(out.Ladder))
			return err
		}); err != nil {
			return nil, err
		}

		out.Assets = append(out.Assets, *asset)
	}

	var manifest string

	if err := r.phase(ctx, "master", func(ctx context.Context) (err error) {
		manifest, err = r.master(ctx, out.Assets)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.phase(ctx, "thumbnails", func(ctx context.Context) (err error) {
		out.Thumbnails, err = r.thumbnail(ctx, source, info.DurationSeconds)
		return err
	}); err != nil {
		return nil, err
	}

	r.tracker.Begin(PhaseFinalization, "Finalization")

	out.Result = job.Result{
		Qualities:       out.Ladder,
		ManifestKey:     manifest,
		DurationSeconds: info.DurationSeconds,
		ThumbnailKeys:   out.Thumbnails,
	}

	r.tracker.Done()

	return out, nil
}

// phase runs fn in its own span once the soft deadline is checked.
func (r *run) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !r.attempt.SoftDeadline.IsZero() && time.Now().After(r.attempt.SoftDeadline) {
		r.logger.WithField("phase", name).Warn("soft time limit reached, stopping attempt")
		return failure.New(failure.Timeout, name, errors.New("soft time limit exceeded"))
	}

	ctx, span := r.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (r *run) download(ctx context.Context, source string) error {
	r.tracker.Begin(PhaseDownload, "Downloading source")

	if err := os.MkdirAll(r.attempt.WorkDir, os.ModePerm); err != nil {
		return failure.New(failure.Upload, "create work dir", err)
	}

	err := r.store.Download(ctx, storage.Videos, storage.SourceKey(r.attempt.SourceAssetID), source)

	if errors.Is(err, storage.ErrNotFound) {
		return failure.New(failure.MediaInspection, "download source", err)
	}

	if err != nil {
		return failure.Process(ctx, failure.Upload, "download source", "", err)
	}

	r.tracker.Done()

	return nil
}

func (r *run) analyse(ctx context.Context, source string) (*probe.MediaInfo, error) {
	r.tracker.Begin(PhaseAnalysis, "Analyzing video")

	info, err := r.inspector.Inspect(ctx, source)

	if err != nil {
		return nil, err
	}

	if info.DurationSeconds <= 0 || info.Width <= 0 || info.Height <= 0 {
		return nil, failure.New(failure.MediaInspection, "analyse source",
			errors.Errorf("unusable stream %dx%d over %.2fs", info.Width, info.Height, info.DurationSeconds))
	}

	r.tracker.Done()

	return info, nil
}

// rendition transcodes, segments and uploads one quality, then reclaims its
// local files.
func (r *run) rendition(ctx context.Context, source string, duration float64, quality string, i, n int) (*ProcessedAsset, error) {
	profile, ok := ladder.Lookup(quality)

	if !ok {
		return nil, failure.New(failure.Transcode, "rendition", errors.Errorf("unknown quality '%s'", quality))
	}

	encoded := filepath.Join(r.attempt.WorkDir, "renditions", quality+".mp4")
	hlsDir := filepath.Join(r.attempt.WorkDir, "hls", quality)

	if err := os.MkdirAll(filepath.Dir(encoded), os.ModePerm); err != nil {
		return nil, failure.New(failure.Transcode, "create rendition dir", err)
	}

	r.tracker.Begin(PhaseTranscoding, fmt.Sprintf("Quality %d/%d: %s", i+1, n, quality))

	if err := r.transcoder.Transcode(ctx, source, encoded, profile, duration, r.tracker); err != nil {
		return nil, err
	}

	r.tracker.Begin(PhaseSegmentation, quality)

	rendition, err := r.segmenter.Segment(ctx, encoded, hlsDir, quality, duration, r.tracker)

	if err != nil {
		return nil, err
	}

	asset, err := r.upload(ctx, rendition)

	if err != nil {
		return nil, err
	}

	_ = os.Remove(encoded)
	_ = os.RemoveAll(hlsDir)

	return asset, nil
}

func (r *run) upload(ctx context.Context, rendition *segment.Rendition) (*ProcessedAsset, error) {
	r.tracker.Begin(PhaseUpload, "Uploading "+rendition.Quality)

	asset := &ProcessedAsset{Quality: rendition.Quality}
	total := len(rendition.Segments) + 1

	for i, path := range rendition.Segments {
		key := storage.RenditionKey(r.attempt.SourceAssetID, rendition.Quality, filepath.Base(path))

		if _, err := r.store.PutFile(ctx, storage.Videos, key, path); err != nil {
			return nil, err
		}

		asset.SegmentKeys = append(asset.SegmentKeys, key)
		r.tracker.Progress(float64(i+1) * 100 / float64(total))
	}

	key := storage.RenditionKey(r.attempt.SourceAssetID, rendition.Quality, segment.PlaylistName)

	if _, err := r.store.PutFile(ctx, storage.Videos, key, rendition.Playlist); err != nil {
		return nil, err
	}

	asset.PlaylistKey = key
	r.tracker.Done()

	r.logger.WithFields(log.Fields{
		"quality":  rendition.Quality,
		"segments": len(asset.SegmentKeys),
	}).Info("rendition uploaded")

	return asset, nil
}

func (r *run) master(ctx context.Context, assets []ProcessedAsset) (string, error) {
	r.tracker.Begin(PhaseFinalization, "Master Playlist")

	renditions := make(map[string]playlist.Rendition, len(assets))

	for _, asset := range assets {
		renditions[asset.Quality] = playlist.Rendition{Quality: asset.Quality, PlaylistKey: asset.PlaylistKey}
	}

	text, err := playlist.Master(renditions)

	if err != nil {
		return "", failure.New(failure.Segmentation, "master playlist", err)
	}

	key, err := r.store.Put(ctx, storage.Manifests, storage.ManifestKey(r.attempt.SourceAssetID), []byte(text))

	if err != nil {
		return "", err
	}

	r.tracker.Done()
	r.logger.WithField("key", key).Info("master playlist uploaded")

	return key, nil
}

func (r *run) thumbnail(ctx context.Context, source string, duration float64) ([]string, error) {
	r.tracker.Begin(PhaseThumbnails, "Thumbnail Generation")

	thumbs, err := r.thumbnails.Generate(ctx, source, filepath.Join(r.attempt.WorkDir, "thumbnails"), duration, r.tracker)

	if err != nil {
		return nil, err
	}

	r.tracker.Begin(PhaseThumbnails, "Thumbnail Upload")

	keys := make([]string, 0, len(thumbs))

	for i, thumb := range thumbs {
		key := storage.ThumbnailKey(r.attempt.SourceAssetID, thumb.TimestampSeconds)

		if _, err := r.store.PutFile(ctx, storage.Thumbnails, key, thumb.Path); err != nil {
			return nil, err
		}

		keys = append(keys, key)
		r.tracker.Progress(float64(i+1) * 100 / float64(len(thumbs)))
	}

	r.tracker.Done()
	r.logger.WithField("count", len(keys)).Info("thumbnails uploaded")

	return keys, nil
}

// NewFFmpeg wires a pipeline whose stages all drive ffmpeg and ffprobe
// through runner.
func NewFFmpeg(store *storage.Store, runner executor.Runner, ffmpeg, ffprobe string) *Pipeline {
	inspector := probe.NewInspector(runner, ffprobe)

	return New(
		store,
		inspector,
		transcode.NewTranscoder(runner, ffmpeg),
		segment.NewSegmenter(runner, inspector, ffmpeg),
		thumbnail.NewGenerator(runner, ffmpeg),
	)
}
