package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterOrdersByBandwidth(t *testing.T) {
	out, err := Master(map[string]Rendition{
		"1080p": {Quality: "1080p"},
		"480p":  {Quality: "480p"},
	})
	require.NoError(t, err)

	want := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"",
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=854x480",
		"480p/playlist.m3u8",
		"",
		"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080",
		"1080p/playlist.m3u8",
		"",
	}, "\n")

	assert.Equal(t, want, out)
}

func TestMasterIsDeterministic(t *testing.T) {
	in := map[string]Rendition{}
	for _, q := range []string{"240p", "720p", "360p", "1080p", "480p"} {
		in[q] = Rendition{Quality: q}
	}

	first, err := Master(in)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Master(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Less(t, strings.Index(first, "240p/"), strings.Index(first, "360p/"))
	assert.Less(t, strings.Index(first, "720p/"), strings.Index(first, "1080p/"))
	assert.Equal(t, 5, strings.Count(first, "#EXT-X-STREAM-INF"))
}

func TestMasterRejectsBadInput(t *testing.T) {
	_, err := Master(nil)
	assert.Error(t, err)

	_, err = Master(map[string]Rendition{"144p": {Quality: "144p"}})
	assert.EqualError(t, err, "unknown quality '144p'")
}
