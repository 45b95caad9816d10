package transcode

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/executor"
	"reel/internal/failure"
	"reel/internal/ladder"
	"reel/internal/progress"
)

// Transcoder encodes one rendition at a time with ffmpeg.
type Transcoder struct {
	runner executor.Runner
	binary string
}

func NewTranscoder(runner executor.Runner, binary string) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &Transcoder{runner: runner, binary: binary}
}

// Command builds the encoder invocation for a rendition. The picture is
// scaled to fit then padded to the exact target size.
func (t *Transcoder) Command(input, output string, p ladder.Profile) *executor.Cmd {
	ffmpeg := executor.NewCmd(t.binary)
	ffmpeg.Add("-hide_banner")
	ffmpeg.Add("-i", input)

	ffmpeg.Add("-c:v", "libx264")
	ffmpeg.Add("-preset", p.Preset)
	ffmpeg.Add("-crf", fmt.Sprint(p.CRF))
	ffmpeg.Add("-maxrate", p.MaxRate())
	ffmpeg.Add("-bufsize", p.BufSize())
	ffmpeg.Add("-vf", fmt.Sprintf("scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease,pad=%[1]d:%[2]d:(ow-iw)/2:(oh-ih)/2", p.Width, p.Height))

	ffmpeg.Add("-c:a", "aac")
	ffmpeg.Add("-b:a", p.AudioRate())

	ffmpeg.Add("-profile:v", "high")
	ffmpeg.Add("-level", "4.0")
	ffmpeg.Add("-pix_fmt", "yuv420p")
	ffmpeg.Add("-movflags", "+faststart")

	ffmpeg.Add("-y", output)

	return ffmpeg
}

// Transcode encodes input into output for the given profile, reporting
// progress against the source duration.
func (t *Transcoder) Transcode(ctx context.Context, input, output string, p ladder.Profile, durationSeconds float64, reporter progress.Reporter) error {
	if reporter == nil {
		reporter = progress.Discard
	}

	logger := log.WithFields(log.Fields{
		"quality": p.Name,
		"input":   input,
	})

	parser := NewProgressParser(durationSeconds)

	out, err := t.runner.Run(ctx, t.Command(input, output, p), func(line string) {
		percent, ok := parser.Feed(line)

		if !ok {
			return
		}

		stats, _ := ParseStats(line)
		logger.WithFields(log.Fields{
			"progress": fmt.Sprintf("%05.2f%%", percent),
			"speed":    stats.Speed,
			"bitrate":  stats.Bitrate,
		}).Debug(stats.Time)

		reporter.Progress(percent)
	})

	if err != nil {
		return failure.Process(ctx, failure.Transcode, "encode "+p.Name, out, err)
	}

	info, err := os.Stat(output)

	if err != nil || info.Size() == 0 {
		return failure.WithOutput(failure.Transcode, "encode "+p.Name, out, errors.Errorf("no output produced at '%s'", output))
	}

	reporter.Progress(100)

	logger.WithField("size", info.Size()).Info("rendition encoded")

	return nil
}
