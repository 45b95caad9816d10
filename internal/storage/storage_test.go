package storage

import (
	"context"
	"io"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/failure"
)

func seed(t *testing.T, s *Store, bucket string, keys ...string) {
	t.Helper()
	for _, key := range keys {
		_, err := s.Put(context.Background(), bucket, key, []byte(key))
		require.NoError(t, err)
	}
}

func TestPutGetExistsDelete(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory()
	defer s.Close()

	key, err := s.Put(ctx, Manifests, "a/master.m3u8", []byte("#EXTM3U"))
	require.NoError(t, err)
	assert.Equal(t, "a/master.m3u8", key)

	data, err := s.Get(ctx, Manifests, "a/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U", string(data))

	ok, err := s.Exists(ctx, Manifests, "a/master.m3u8")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := s.Delete(ctx, Manifests, "a/master.m3u8")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, Manifests, "a/master.m3u8")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Get(ctx, Manifests, "a/master.m3u8")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Put(ctx, "nope", "k", nil)
	assert.True(t, failure.Is(err, failure.Upload))
}

func TestPutFileAndStream(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory()

	path := filepath.Join(t.TempDir(), "segment_000.ts")
	require.NoError(t, ioutil.WriteFile(path, []byte("transport stream"), 0644))

	key := RenditionKey("asset", "720p", "segment_000.ts")
	_, err := s.PutFile(ctx, Videos, key, path)
	require.NoError(t, err)

	r, err := s.Reader(ctx, Videos, key)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "transport stream", string(data))

	out := filepath.Join(t.TempDir(), "copy.ts")
	require.NoError(t, s.Download(ctx, Videos, key, out))
	copied, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "transport stream", string(copied))
}

func TestPutFileMissingIsUploadErrorWithoutRetry(t *testing.T) {
	s := OpenMemory(WithUploadRetry(3, time.Hour))

	start := time.Now()
	_, err := s.PutFile(context.Background(), Videos, "k", "/does/not/exist")

	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Upload))
	assert.Less(t, time.Since(start), time.Minute)
}

func TestListIsDeepAndLazy(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory()

	seed(t, s, Videos,
		"asset",
		RenditionKey("asset", "720p", "playlist.m3u8"),
		RenditionKey("asset", "720p", "segment_000.ts"),
		RenditionKey("asset", "240p", "segment_000.ts"),
		RenditionKey("other", "240p", "segment_000.ts"),
	)

	keys, err := s.Keys(ctx, Videos, RenditionPrefix("asset"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"processed-videos/asset/240p/segment_000.ts",
		"processed-videos/asset/720p/playlist.m3u8",
		"processed-videos/asset/720p/segment_000.ts",
	}, keys)

	iter, err := s.List(Videos, "processed-videos/other/")
	require.NoError(t, err)
	key, err := iter.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "processed-videos/other/240p/segment_000.ts", key)
	_, err = iter.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestInvalidateRemovesEveryArtifactOfTheAsset(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory()

	seed(t, s, Videos, "old", RenditionKey("old", "720p", "segment_000.ts"), RenditionKey("old", "720p", "playlist.m3u8"), "older", RenditionKey("older", "240p", "segment_000.ts"))
	seed(t, s, Thumbnails, ThumbnailKey("old", 0), ThumbnailKey("old", 10), ThumbnailKey("older", 0))
	seed(t, s, Manifests, ManifestKey("old"), ManifestKey("older"))

	require.NoError(t, s.Invalidate(ctx, Invalidation{AssetID: "old"}))

	for _, target := range []struct{ bucket, prefix string }{
		{Videos, RenditionPrefix("old")},
		{Thumbnails, AssetPrefix("old")},
		{Manifests, AssetPrefix("old")},
	} {
		keys, err := s.Keys(ctx, target.bucket, target.prefix)
		require.NoError(t, err)
		assert.Empty(t, keys, target.bucket)
	}

	ok, _ := s.Exists(ctx, Videos, "old")
	assert.False(t, ok)

	for _, key := range []string{"older", RenditionKey("older", "240p", "segment_000.ts")} {
		ok, _ := s.Exists(ctx, Videos, key)
		assert.True(t, ok, key)
	}

	ok, _ = s.Exists(ctx, Thumbnails, ThumbnailKey("older", 0))
	assert.True(t, ok)
}

func TestInvalidateCanKeepSource(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory()
	seed(t, s, Videos, "asset", RenditionKey("asset", "240p", "playlist.m3u8"))

	require.NoError(t, s.Invalidate(ctx, Invalidation{AssetID: "asset", KeepSource: true}))

	ok, _ := s.Exists(ctx, Videos, "asset")
	assert.True(t, ok)
	ok, _ = s.Exists(ctx, Videos, RenditionKey("asset", "240p", "playlist.m3u8"))
	assert.False(t, ok)

	assert.Error(t, s.Invalidate(ctx, Invalidation{}))
}

func TestOpenLocal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := OpenLocal(ctx, root, Names{Videos: "raw"})
	require.NoError(t, err)
	defer s.Close()

	seed(t, s, Videos, RenditionKey("a", "360p", "segment_001.ts"))
	seed(t, s, Thumbnails, ThumbnailKey("a", 0))

	assert.FileExists(t, filepath.Join(root, "raw", "processed-videos", "a", "360p", "segment_001.ts"))
	assert.FileExists(t, filepath.Join(root, "thumbnails", "a", "thumbnail_0.jpg"))
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "processed-videos/x/720p/playlist.m3u8", RenditionKey("x", "720p", "playlist.m3u8"))
	assert.Equal(t, "x/thumbnail_20.jpg", ThumbnailKey("x", 20))
	assert.Equal(t, "x/master.m3u8", ManifestKey("x"))
	assert.Equal(t, "manifests/x/master.m3u8", ManifestURL("x"))
	assert.Equal(t, "x/master.m3u8", ManifestKeyFromURL("manifests/x/master.m3u8"))
	assert.Equal(t, "x/master.m3u8", ManifestKeyFromURL("x/master.m3u8"))

	assert.Equal(t, "x", AssetOf(Videos, "x"))
	assert.Equal(t, "x", AssetOf(Videos, "processed-videos/x/240p/segment_000.ts"))
	assert.Equal(t, "", AssetOf(Videos, "misc/file"))
	assert.Equal(t, "x", AssetOf(Thumbnails, "x/thumbnail_0.jpg"))
	assert.Equal(t, "", AssetOf(Manifests, "loose.m3u8"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentType("a/master.m3u8"))
	assert.Equal(t, "video/mp2t", ContentType("segment_000.ts"))
	assert.Equal(t, "image/jpeg", ContentType("thumbnail_0.jpg"))
	assert.Equal(t, "application/octet-stream", ContentType("uuid-without-ext"))
}
