package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Invalidation tells which artifacts of an asset to delete.
type Invalidation struct {
	AssetID    string
	KeepSource bool
}

// Invalidate deletes every artifact attributed to an asset. It keeps going
// past individual failures and reports them together.
func (s *Store) Invalidate(ctx context.Context, inv Invalidation) error {
	if inv.AssetID == "" {
		return errors.New("no asset to invalidate")
	}

	logger := log.WithField("asset", inv.AssetID)

	var failed []string

	if !inv.KeepSource {
		if ok, err := s.Delete(ctx, Videos, SourceKey(inv.AssetID)); err != nil {
			failed = append(failed, err.Error())
		} else if ok {
			logger.Info("deleted source")
		}
	}

	targets := []struct {
		bucket string
		prefix string
	}{
		{Videos, RenditionPrefix(inv.AssetID)},
		{Thumbnails, AssetPrefix(inv.AssetID)},
		{Manifests, AssetPrefix(inv.AssetID)},
	}

	for _, target := range targets {
		n, err := s.DeletePrefix(ctx, target.bucket, target.prefix)

		if err != nil {
			failed = append(failed, errors.Wrapf(err, "%s/%s", target.bucket, target.prefix).Error())
		}

		if n > 0 {
			logger.WithFields(log.Fields{
				"bucket": target.bucket,
				"prefix": target.prefix,
				"count":  n,
			}).Info("deleted stale artifacts")
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("stale artifacts of '%s' not fully deleted: %s", inv.AssetID, strings.Join(failed, "; "))
	}

	return nil
}
