// Package pipelinetest provides a scripted stand-in for ffmpeg and ffprobe.
package pipelinetest

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"reel/internal/executor"
	"reel/internal/segment"
)

// Steps a failure can be scripted for.
const (
	Probe     = "probe"
	Transcode = "transcode"
	Segment   = "segment"
	Thumbnail = "thumbnail"
)

// FFmpeg writes the files the real binaries would have written and reports
// a source of the configured size.
type FFmpeg struct {
	Width           int
	Height          int
	DurationSeconds float64

	// NoVideo makes ffprobe report an audio-only file.
	NoVideo bool

	// Hang makes every transcode block until its context ends.
	Hang bool

	mu    sync.Mutex
	fails map[string]int
	calls map[string]int
}

func New(width, height int, durationSeconds float64) *FFmpeg {
	return &FFmpeg{
		Width:           width,
		Height:          height,
		DurationSeconds: durationSeconds,
		fails:           make(map[string]int),
		calls:           make(map[string]int),
	}
}

// FailNext makes the next n invocations of step fail.
func (f *FFmpeg) FailNext(step string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fails[step] = n
}

// Calls returns how many times step ran.
func (f *FFmpeg) Calls(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[step]
}

func (f *FFmpeg) record(step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[step]++

	if f.fails[step] > 0 {
		f.fails[step]--
		return errors.New("exit status 1")
	}

	return nil
}

func step(args []string) string {
	joined := strings.Join(args, " ")

	switch {
	case strings.Contains(joined, "-f hls"):
		return Segment
	case strings.Contains(joined, "-vframes"):
		return Thumbnail
	default:
		return Transcode
	}
}

func (f *FFmpeg) Run(ctx context.Context, cmd *executor.Cmd, onLine func(string)) (string, error) {
	args := cmd.Command()
	out := args[len(args)-1]
	s := step(args)

	if err := f.record(s); err != nil {
		return s + ": Conversion failed!", err
	}

	switch s {
	case Transcode:
		if f.Hang {
			<-ctx.Done()
			return "", errors.New("signal: killed")
		}

		for i := 0; i <= 4 && onLine != nil; i++ {
			t := f.DurationSeconds * float64(i) / 4
			onLine(fmt.Sprintf("frame=  100 fps= 50 q=28.0 size=  1024kB time=%s bitrate=1000.0kbits/s speed=2.0x", clock(t)))
		}

		return "", ioutil.WriteFile(out, []byte("mp4"), 0644)
	case Segment:
		dir := filepath.Dir(out)
		n := int(math.Ceil(f.DurationSeconds / segment.TargetDuration))

		var playlist strings.Builder
		playlist.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")

		for i := 0; i < n; i++ {
			if err := ioutil.WriteFile(filepath.Join(dir, segment.SegmentName(i)), []byte("ts"), 0644); err != nil {
				return "", err
			}

			fmt.Fprintf(&playlist, "#EXTINF:10.0,\n%s\n", segment.SegmentName(i))
		}

		playlist.WriteString("#EXT-X-ENDLIST\n")

		return "", ioutil.WriteFile(out, []byte(playlist.String()), 0644)
	default:
		return "", ioutil.WriteFile(out, []byte("jpeg"), 0644)
	}
}

func (f *FFmpeg) Output(ctx context.Context, cmd *executor.Cmd) ([]byte, error) {
	if err := f.record(Probe); err != nil {
		return nil, err
	}

	video := fmt.Sprintf(`{"codec_name": "h264", "codec_type": "video", "width": %d, "height": %d, "r_frame_rate": "30/1"},`, f.Width, f.Height)

	if f.NoVideo {
		video = ""
	}

	return []byte(fmt.Sprintf(`{
  "streams": [
    %s
    {"codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "%.3f", "size": "1048576", "bit_rate": "2000000"}
}`, video, f.DurationSeconds)), nil
}

func clock(seconds float64) string {
	cs := int(seconds * 100)

	return fmt.Sprintf("%02d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}
