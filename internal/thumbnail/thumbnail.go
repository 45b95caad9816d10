package thumbnail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/executor"
	"reel/internal/failure"
	"reel/internal/progress"
)

const (
	// Interval between two thumbnails, in seconds.
	Interval = 10
	Width    = 320
	Height   = 180
)

// Pattern names the thumbnail taken at a whole second.
const Pattern = "thumbnail_%d.jpg"

// Name is the file name of the thumbnail taken at t seconds.
func Name(t int) string {
	return fmt.Sprintf(Pattern, t)
}

// Timestamps lists the sample points across [0, duration).
func Timestamps(durationSeconds float64) []int {
	var ts []int

	for t := 0; float64(t) < durationSeconds; t += Interval {
		ts = append(ts, t)
	}

	return ts
}

type Thumbnail struct {
	TimestampSeconds int
	Path             string
}

type Generator struct {
	runner executor.Runner
	binary string
}

func NewGenerator(runner executor.Runner, binary string) *Generator {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &Generator{runner: runner, binary: binary}
}

func (g *Generator) Command(input, output string, t int) *executor.Cmd {
	ffmpeg := executor.NewCmd(g.binary)
	ffmpeg.Add("-hide_banner")
	ffmpeg.Add("-i", input)
	ffmpeg.Add("-ss", strconv.Itoa(t))
	ffmpeg.Add("-vframes", "1")
	ffmpeg.Add("-vf", fmt.Sprintf("scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease,pad=%[1]d:%[2]d:(ow-iw)/2:(oh-ih)/2", Width, Height))
	ffmpeg.Add("-q:v", "2")
	ffmpeg.Add("-y", output)

	return ffmpeg
}

// Generate extracts one frame per interval into dir. A single failed frame
// fails the whole set.
func (g *Generator) Generate(ctx context.Context, input, dir string, durationSeconds float64, reporter progress.Reporter) ([]Thumbnail, error) {
	if reporter == nil {
		reporter = progress.Discard
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, failure.New(failure.Thumbnail, "create "+dir, err)
	}

	timestamps := Timestamps(durationSeconds)
	thumbs := make([]Thumbnail, 0, len(timestamps))

	for i, t := range timestamps {
		output := filepath.Join(dir, Name(t))
		op := fmt.Sprintf("thumbnail at %ds", t)

		out, err := g.runner.Run(ctx, g.Command(input, output, t), nil)

		if err != nil {
			return nil, failure.Process(ctx, failure.Thumbnail, op, out, err)
		}

		if info, err := os.Stat(output); err != nil || info.Size() == 0 {
			return nil, failure.WithOutput(failure.Thumbnail, op, out, errors.Errorf("no image produced at '%s'", output))
		}

		thumbs = append(thumbs, Thumbnail{TimestampSeconds: t, Path: output})
		reporter.Progress(float64(i+1) * 100 / float64(len(timestamps)))
	}

	log.WithField("count", len(thumbs)).Info("thumbnails generated")

	return thumbs, nil
}
