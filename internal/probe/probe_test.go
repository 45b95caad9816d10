package probe

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/executor"
	"reel/internal/failure"
)

const sampleFFprobe = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "30000/1001",
      "duration": "30.030000",
      "disposition": {"default": 1, "attached_pic": 0}
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "disposition": {"default": 1}
    }
  ],
  "format": {
    "filename": "source.mp4",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "30.030000",
    "size": "15728640",
    "bit_rate": "4190000"
  }
}`

const coverArtOnly = `{
  "streams": [
    {"index": 0, "codec_name": "mp3", "codec_type": "audio"},
    {"index": 1, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 600, "disposition": {"attached_pic": 1}}
  ],
  "format": {"format_name": "mp3", "duration": "180.0", "size": "4000000", "bit_rate": "192000"}
}`

type fakeRunner struct {
	out  []byte
	err  error
	cmds []*executor.Cmd
}

func (f *fakeRunner) Run(ctx context.Context, cmd *executor.Cmd, onLine func(string)) (string, error) {
	f.cmds = append(f.cmds, cmd)
	return "", f.err
}

func (f *fakeRunner) Output(ctx context.Context, cmd *executor.Cmd) ([]byte, error) {
	f.cmds = append(f.cmds, cmd)
	return f.out, f.err
}

func TestParseJSON(t *testing.T) {
	info, err := ParseJSON([]byte(sampleFFprobe))
	require.NoError(t, err)

	assert.InDelta(t, 30.03, info.DurationSeconds, 0.001)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", info.ContainerFormat)
	assert.Equal(t, int64(15728640), info.SizeBytes)
	assert.Equal(t, int64(4190000), info.Bitrate)
}

func TestParseJSONWithoutVideo(t *testing.T) {
	_, err := ParseJSON([]byte(coverArtOnly))

	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.MediaInspection))
	assert.False(t, failure.Retryable(err))
}

func TestParseJSONGarbage(t *testing.T) {
	_, err := ParseJSON([]byte("not json"))
	assert.True(t, failure.Is(err, failure.MediaInspection))
}

func TestInspect(t *testing.T) {
	runner := &fakeRunner{out: []byte(sampleFFprobe)}
	inspector := NewInspector(runner, "")

	info, err := inspector.Inspect(context.Background(), "/work/source.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1080, info.Height)

	require.Len(t, runner.cmds, 1)
	assert.Equal(t, "ffprobe", runner.cmds[0].Binary)
	assert.Equal(t, "/work/source.mp4", runner.cmds[0].Command()[len(runner.cmds[0].Command())-1])
}

func TestInspectProcessFailure(t *testing.T) {
	inspector := NewInspector(&fakeRunner{err: errors.New("exit status 1")}, "ffprobe")

	_, err := inspector.Inspect(context.Background(), "/work/broken.mp4")
	assert.True(t, failure.Is(err, failure.MediaInspection))
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 24.0, parseRate("24"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 0.0, parseRate(""))
}

func TestValidate(t *testing.T) {
	ok := MediaInfo{DurationSeconds: 30, Width: 1920, Height: 1080, SizeBytes: 1 << 20}

	cases := []struct {
		name   string
		mutate func(m *MediaInfo)
		valid  bool
	}{
		{"valid", func(m *MediaInfo) {}, true},
		{"zero duration", func(m *MediaInfo) { m.DurationSeconds = 0 }, false},
		{"zero width", func(m *MediaInfo) { m.Width = 0 }, false},
		{"zero height", func(m *MediaInfo) { m.Height = 0 }, false},
		{"four hours", func(m *MediaInfo) { m.DurationSeconds = 14400 }, true},
		{"over four hours", func(m *MediaInfo) { m.DurationSeconds = 14400.5 }, false},
		{"tiny", func(m *MediaInfo) { m.Width, m.Height = 160, 120 }, false},
		{"minimum", func(m *MediaInfo) { m.Width, m.Height = 320, 240 }, true},
		{"oversized", func(m *MediaInfo) { m.SizeBytes = 11 << 30 }, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info := ok
			c.mutate(&info)

			err := Validate(&info, DefaultLimits)

			if c.valid {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Validation))
		})
	}

	assert.Error(t, Validate(nil, DefaultLimits))
}
