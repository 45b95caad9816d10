package janitor

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/catalog"
	"reel/internal/storage"
)

// Report lists, per bucket, the keys of assets no catalog record refers to.
type Report struct {
	Orphans map[string][]string
	Assets  []string
	Deleted int
}

func (r *Report) Count() int {
	count := 0

	for _, keys := range r.Orphans {
		count += len(keys)
	}

	return count
}

type Janitor struct {
	store   *storage.Store
	catalog catalog.Catalog
}

func New(store *storage.Store, cat catalog.Catalog) *Janitor {
	return &Janitor{store: store, catalog: cat}
}

// Sweep finds orphaned objects and deletes them unless dryRun is set.
// Keys outside the storage layout are never touched.
func (j *Janitor) Sweep(ctx context.Context, dryRun bool) (*Report, error) {
	ids, err := j.catalog.SourceAssetIDs(ctx)

	if err != nil {
		return nil, errors.Wrap(err, "unable to list referenced assets")
	}

	known := make(map[string]bool, len(ids))

	for _, id := range ids {
		known[id] = true
	}

	report := &Report{Orphans: make(map[string][]string)}
	assets := make(map[string]bool)

	for _, bucket := range storage.Buckets {
		keys, err := j.store.Keys(ctx, bucket, "")

		if err != nil {
			return nil, errors.Wrapf(err, "unable to list %s", bucket)
		}

		for _, key := range keys {
			asset := storage.AssetOf(bucket, key)

			if asset == "" || known[asset] {
				continue
			}

			report.Orphans[bucket] = append(report.Orphans[bucket], key)
			assets[asset] = true
		}
	}

	for asset := range assets {
		report.Assets = append(report.Assets, asset)
	}

	sort.Strings(report.Assets)

	logger := log.WithFields(log.Fields{"assets": len(report.Assets), "objects": report.Count()})

	if dryRun {
		logger.Info("orphans found, nothing deleted")
		return report, nil
	}

	for bucket, keys := range report.Orphans {
		for _, key := range keys {
			deleted, err := j.store.Delete(ctx, bucket, key)

			if err != nil {
				log.WithError(err).Warnf("unable to delete '%s/%s'", bucket, key)
				continue
			}

			if deleted {
				report.Deleted++
			}
		}
	}

	logger.WithField("deleted", report.Deleted).Info("orphans deleted")

	return report, nil
}
