package ingest

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/catalog"
	"reel/internal/failure"
	"reel/internal/job"
	"reel/internal/pipeline"
	"reel/internal/probe"
	"reel/internal/queue"
	"reel/internal/status"
	"reel/internal/storage"
	"reel/internal/tracing"
)

type Config struct {
	Queue      string
	MaxRetries int
	Limits     probe.Limits
}

func DefaultConfig() Config {
	return Config{
		Queue:      queue.JobQueue,
		MaxRetries: job.DefaultMaxRetries,
		Limits:     probe.DefaultLimits,
	}
}

// Service accepts uploads and turns them into queued jobs.
type Service struct {
	cfg       Config
	store     *storage.Store
	status    *status.Store
	channel   queue.Channel
	catalog   catalog.Catalog
	inspector pipeline.Inspector
}

func NewService(cfg Config, store *storage.Store, statusStore *status.Store, channel queue.Channel, cat catalog.Catalog, inspector pipeline.Inspector) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		status:    statusStore,
		channel:   channel,
		catalog:   cat,
		inspector: inspector,
	}
}

// Upload validates a local video, replaces the owner's previous asset with
// it and submits a job. Nothing is written when validation fails.
func (s *Service) Upload(ctx context.Context, path, ownerID string) (*job.Job, error) {
	logger := log.WithFields(log.Fields{"owner": ownerID, "path": path})

	stat, err := os.Stat(path)

	if err != nil {
		return nil, failure.Validationf("unable to read upload: %v", err)
	}

	if s.cfg.Limits.MaxSizeBytes > 0 && stat.Size() > s.cfg.Limits.MaxSizeBytes {
		return nil, failure.Validationf("video too large: %d bytes exceeds %d", stat.Size(), s.cfg.Limits.MaxSizeBytes)
	}

	info, err := s.inspector.Inspect(ctx, path)

	if err != nil {
		return nil, failure.Validationf("not a valid video file: %v", err)
	}

	if err = probe.Validate(info, s.cfg.Limits); err != nil {
		return nil, err
	}

	asset, err := s.asset(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	if asset != nil && asset.SourceAssetID != "" {
		if err := s.store.Invalidate(ctx, storage.Invalidation{AssetID: asset.SourceAssetID}); err != nil {
			logger.WithError(err).Warn("previous asset not fully deleted")
		}
	}

	assetID := uuid.New().String()

	if _, err := s.store.PutFile(ctx, storage.Videos, storage.SourceKey(assetID), path); err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"asset":    assetID,
		"width":    info.Width,
		"height":   info.Height,
		"duration": info.DurationSeconds,
	}).Info("source stored")

	return s.Submit(ctx, assetID, ownerID)
}

// Submit creates a job for a stored source and queues it. It becomes the
// owner's current job, superseding any job still queued for that owner.
func (s *Service) Submit(ctx context.Context, sourceAssetID, ownerID string) (*job.Job, error) {
	if sourceAssetID == "" || ownerID == "" {
		return nil, failure.Validationf("source asset and owner are required")
	}

	j := job.New(sourceAssetID, ownerID, s.cfg.MaxRetries)

	if err := j.MarkQueued(); err != nil {
		return nil, err
	}

	if s.catalog != nil {
		err := s.catalog.SetProcessingState(ctx, ownerID, catalog.Update{
			State:         catalog.StateQueued,
			SourceAssetID: catalog.String(sourceAssetID),
		})

		if errors.Is(err, catalog.ErrNotFound) {
			return nil, failure.Validationf("unknown owner '%s'", ownerID)
		}

		if err != nil {
			return nil, errors.Wrap(err, "unable to update catalog record")
		}
	}

	if err := s.status.Save(j); err != nil {
		return nil, err
	}

	if err := s.status.SetLatest(ownerID, j.ID); err != nil {
		return nil, errors.Wrapf(err, "unable to make '%s' the current job", j.ID)
	}

	req := queue.JobRequest{
		JobID:         j.ID,
		SourceAssetID: sourceAssetID,
		OwnerID:       ownerID,
		Trace:         tracing.Inject(ctx),
	}

	if err := s.channel.Publish(s.cfg.Queue, req); err != nil {
		_ = j.MarkFailed(err)
		_ = s.status.Save(j)
		return nil, errors.Wrapf(err, "unable to publish in %s", s.cfg.Queue)
	}

	log.WithFields(log.Fields{
		"job":   j.ID,
		"owner": ownerID,
		"asset": sourceAssetID,
	}).Info("job submitted")

	return j, nil
}

// Reprocess runs the pipeline again on the owner's stored source. Derived
// artifacts are deleted first; the source is kept.
func (s *Service) Reprocess(ctx context.Context, ownerID string) (*job.Job, error) {
	asset, err := s.asset(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	if asset == nil || asset.SourceAssetID == "" {
		return nil, failure.Validationf("owner '%s' has no video", ownerID)
	}

	if err := s.store.Invalidate(ctx, storage.Invalidation{AssetID: asset.SourceAssetID, KeepSource: true}); err != nil {
		log.WithError(err).WithField("owner", ownerID).Warn("previous renditions not fully deleted")
	}

	return s.Submit(ctx, asset.SourceAssetID, ownerID)
}

// Remove deletes the owner's video with every derived artifact and
// withdraws its current job.
func (s *Service) Remove(ctx context.Context, ownerID string) error {
	asset, err := s.asset(ctx, ownerID)

	if err != nil {
		return err
	}

	if err := s.status.ClearLatest(ownerID); err != nil {
		return errors.Wrapf(err, "unable to withdraw job of '%s'", ownerID)
	}

	if asset == nil || asset.SourceAssetID == "" {
		return nil
	}

	if err := s.store.Invalidate(ctx, storage.Invalidation{AssetID: asset.SourceAssetID}); err != nil {
		log.WithError(err).WithField("owner", ownerID).Warn("video not fully deleted")
	}

	if err := s.catalog.ClearAsset(ctx, ownerID); err != nil {
		return errors.Wrapf(err, "unable to clear catalog record of '%s'", ownerID)
	}

	log.WithFields(log.Fields{
		"owner": ownerID,
		"asset": asset.SourceAssetID,
	}).Info("video removed")

	return nil
}

// asset returns the owner's catalog record, or nil without a catalog.
func (s *Service) asset(ctx context.Context, ownerID string) (*catalog.Asset, error) {
	if s.catalog == nil {
		return nil, nil
	}

	asset, err := s.catalog.GetAsset(ctx, ownerID)

	if errors.Is(err, catalog.ErrNotFound) {
		return nil, failure.Validationf("unknown owner '%s'", ownerID)
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to read catalog record")
	}

	return asset, nil
}
