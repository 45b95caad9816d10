package ingest

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/catalog"
	"reel/internal/database"
	"reel/internal/failure"
	"reel/internal/job"
	"reel/internal/pipeline/pipelinetest"
	"reel/internal/probe"
	"reel/internal/queue"
	"reel/internal/status"
	"reel/internal/storage"
)

type env struct {
	ff      *pipelinetest.FFmpeg
	store   *storage.Store
	status  *status.Store
	channel *queue.Memory
	catalog *catalog.Memory
	service *Service
}

func newEnv(t *testing.T, ff *pipelinetest.FFmpeg) *env {
	e := &env{
		ff:      ff,
		store:   storage.OpenMemory(storage.WithUploadRetry(1, time.Millisecond)),
		status:  status.NewStore(database.NewMemory(), 0),
		channel: queue.NewMemory(),
		catalog: catalog.NewMemory(),
	}

	e.catalog.Add("42")
	e.service = NewService(DefaultConfig(), e.store, e.status, e.channel, e.catalog, probe.NewInspector(ff, ""))

	return e
}

// attach gives the owner an existing processed asset.
func (e *env) attach(t *testing.T, ownerID, assetID string) {
	ctx := context.Background()

	seed := []struct{ bucket, key string }{
		{storage.Videos, storage.SourceKey(assetID)},
		{storage.Videos, storage.RenditionKey(assetID, "720p", "playlist.m3u8")},
		{storage.Videos, storage.RenditionKey(assetID, "720p", "segment_000.ts")},
		{storage.Thumbnails, storage.ThumbnailKey(assetID, 0)},
		{storage.Manifests, storage.ManifestKey(assetID)},
	}

	for _, s := range seed {
		_, err := e.store.Put(ctx, s.bucket, s.key, []byte("data"))
		require.NoError(t, err)
	}

	require.NoError(t, e.catalog.SetProcessingState(ctx, ownerID, catalog.Update{
		State:         catalog.StateCompleted,
		SourceAssetID: catalog.String(assetID),
		Qualities:     []string{"720p"},
		ManifestKey:   catalog.String(storage.ManifestURL(assetID)),
	}))
}

func (e *env) keys(t *testing.T, bucket, prefix string) []string {
	keys, err := e.store.Keys(context.Background(), bucket, prefix)
	require.NoError(t, err)
	return keys
}

func upload(t *testing.T) string {
	dir, err := ioutil.TempDir("", "ingest")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "movie.mp4")
	require.NoError(t, ioutil.WriteFile(path, []byte("movie"), 0644))

	return path
}

func TestUploadReplacesPreviousAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, pipelinetest.New(1920, 1080, 30))
	e.attach(t, "42", "old")

	j, err := e.service.Upload(ctx, upload(t), "42")
	require.NoError(t, err)

	assert.Equal(t, job.Queued, j.State)
	assert.NotEqual(t, "old", j.SourceAssetID)

	assert.Equal(t, []string{j.SourceAssetID}, e.keys(t, storage.Videos, ""))
	assert.Empty(t, e.keys(t, storage.Thumbnails, ""))
	assert.Empty(t, e.keys(t, storage.Manifests, ""))

	asset, err := e.catalog.GetAsset(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateQueued, asset.State)
	assert.Equal(t, j.SourceAssetID, asset.SourceAssetID)

	latest, err := e.status.Latest("42")
	require.NoError(t, err)
	assert.Equal(t, j.ID, latest)

	saved, err := e.status.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Queued, saved.State)

	var req queue.JobRequest
	ok, d, err := e.channel.Consume(queue.JobQueue, &req)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, d.Ack())
	assert.Equal(t, j.ID, req.JobID)
	assert.Equal(t, "42", req.OwnerID)
	assert.Equal(t, j.SourceAssetID, req.SourceAssetID)
}

func TestUploadRejectsWithoutWrites(t *testing.T) {
	tests := []struct {
		name string
		prep func(e *env)
	}{
		{"zero duration", func(e *env) { e.ff.DurationSeconds = 0 }},
		{"zero dimensions", func(e *env) { e.ff.Width, e.ff.Height = 0, 0 }},
		{"too long", func(e *env) { e.ff.DurationSeconds = 5 * 60 * 60 }},
		{"too small", func(e *env) { e.ff.Width, e.ff.Height = 160, 120 }},
		{"no video stream", func(e *env) { e.ff.NoVideo = true }},
		{"probe exits", func(e *env) { e.ff.FailNext(pipelinetest.Probe, 1) }},
		{"too large", func(e *env) { e.service.cfg.Limits.MaxSizeBytes = 2 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEnv(t, pipelinetest.New(1280, 720, 30))
			e.attach(t, "42", "old")
			test.prep(e)

			_, err := e.service.Upload(context.Background(), upload(t), "42")
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Validation), err.Error())

			assert.Len(t, e.keys(t, storage.Videos, ""), 3)
			assert.Equal(t, 0, e.channel.Len(queue.JobQueue))

			_, err = e.status.Latest("42")
			assert.True(t, errors.Is(err, status.ErrNotFound))
		})
	}
}

func TestUploadUnknownOwner(t *testing.T) {
	e := newEnv(t, pipelinetest.New(1280, 720, 30))

	_, err := e.service.Upload(context.Background(), upload(t), "43")
	assert.True(t, failure.Is(err, failure.Validation))
	assert.Empty(t, e.keys(t, storage.Videos, ""))
}

func TestSubmitSupersedes(t *testing.T) {
	e := newEnv(t, pipelinetest.New(1280, 720, 30))

	first, err := e.service.Submit(context.Background(), "a1", "42")
	require.NoError(t, err)

	second, err := e.service.Submit(context.Background(), "a1", "42")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	latest, err := e.status.Latest("42")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest)
	assert.Equal(t, 2, e.channel.Len(queue.JobQueue))

	_, err = e.service.Submit(context.Background(), "", "42")
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestReprocessKeepsSource(t *testing.T) {
	e := newEnv(t, pipelinetest.New(1280, 720, 30))
	e.attach(t, "42", "a1")

	j, err := e.service.Reprocess(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "a1", j.SourceAssetID)
	assert.Equal(t, []string{"a1"}, e.keys(t, storage.Videos, ""))
	assert.Empty(t, e.keys(t, storage.Thumbnails, ""))
	assert.Empty(t, e.keys(t, storage.Manifests, ""))
	assert.Equal(t, 1, e.channel.Len(queue.JobQueue))
}

func TestReprocessWithoutVideo(t *testing.T) {
	e := newEnv(t, pipelinetest.New(1280, 720, 30))

	_, err := e.service.Reprocess(context.Background(), "42")
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, pipelinetest.New(1280, 720, 30))
	e.attach(t, "42", "a1")

	_, err := e.service.Reprocess(ctx, "42")
	require.NoError(t, err)

	require.NoError(t, e.service.Remove(ctx, "42"))

	assert.Empty(t, e.keys(t, storage.Videos, ""))

	asset, err := e.catalog.GetAsset(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, asset.SourceAssetID)
	assert.Equal(t, catalog.StatePending, asset.State)

	_, err = e.status.Latest("42")
	assert.True(t, errors.Is(err, status.ErrNotFound))

	// nothing left to remove
	require.NoError(t, e.service.Remove(ctx, "42"))
}
