package stream

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/pkg/errors"

	"reel/internal/catalog"
	"reel/internal/segment"
	"reel/internal/storage"
	"reel/internal/thumbnail"
)

var (
	ErrNotReady       = errors.New("video not ready")
	ErrUnknownQuality = errors.New("quality not available")
)

// Resolver maps playback requests to the artifacts the pipeline produced.
type Resolver struct {
	store   *storage.Store
	catalog catalog.Catalog
}

func NewResolver(store *storage.Store, cat catalog.Catalog) *Resolver {
	return &Resolver{store: store, catalog: cat}
}

func (r *Resolver) ready(ctx context.Context, ownerID string) (*catalog.Asset, error) {
	asset, err := r.catalog.GetAsset(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	if asset.State != catalog.StateCompleted || asset.SourceAssetID == "" {
		return nil, errors.Wrapf(ErrNotReady, "owner '%s' is %s", ownerID, asset.State)
	}

	return asset, nil
}

func (r *Resolver) rendition(ctx context.Context, ownerID, quality string) (*catalog.Asset, error) {
	asset, err := r.ready(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	for _, q := range asset.Qualities {
		if q == quality {
			return asset, nil
		}
	}

	return nil, errors.Wrapf(ErrUnknownQuality, "'%s' for owner '%s'", quality, ownerID)
}

// Manifest returns the master playlist of the owner's video.
func (r *Resolver) Manifest(ctx context.Context, ownerID string) ([]byte, error) {
	asset, err := r.ready(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	key := storage.ManifestKeyFromURL(asset.ManifestKey)

	if key == "" {
		key = storage.ManifestKey(asset.SourceAssetID)
	}

	return r.store.Get(ctx, storage.Manifests, key)
}

// RenditionPlaylist returns the media playlist of one quality.
func (r *Resolver) RenditionPlaylist(ctx context.Context, ownerID, quality string) ([]byte, error) {
	asset, err := r.rendition(ctx, ownerID, quality)

	if err != nil {
		return nil, err
	}

	return r.store.Get(ctx, storage.Videos, storage.RenditionKey(asset.SourceAssetID, quality, segment.PlaylistName))
}

// Segment streams one media segment. The caller closes it.
func (r *Resolver) Segment(ctx context.Context, ownerID, quality string, index int) (io.ReadCloser, error) {
	if index < 0 {
		return nil, errors.Errorf("invalid segment index %d", index)
	}

	asset, err := r.rendition(ctx, ownerID, quality)

	if err != nil {
		return nil, err
	}

	return r.store.Reader(ctx, storage.Videos, storage.RenditionKey(asset.SourceAssetID, quality, segment.SegmentName(index)))
}

// Thumbnails lists the timestamps a thumbnail was stored for, ascending.
func (r *Resolver) Thumbnails(ctx context.Context, ownerID string) ([]int, error) {
	asset, err := r.ready(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	keys, err := r.store.Keys(ctx, storage.Thumbnails, storage.AssetPrefix(asset.SourceAssetID))

	if err != nil {
		return nil, err
	}

	var ts []int

	for _, key := range keys {
		var t int

		if _, err := fmt.Sscanf(path.Base(key), thumbnail.Pattern, &t); err == nil {
			ts = append(ts, t)
		}
	}

	sort.Ints(ts)

	return ts, nil
}

// Thumbnail streams the image taken at t seconds. The caller closes it.
func (r *Resolver) Thumbnail(ctx context.Context, ownerID string, t int) (io.ReadCloser, error) {
	asset, err := r.ready(ctx, ownerID)

	if err != nil {
		return nil, err
	}

	return r.store.Reader(ctx, storage.Thumbnails, storage.ThumbnailKey(asset.SourceAssetID, t))
}
