package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/executor"
	"reel/internal/failure"
	"reel/internal/probe"
	"reel/internal/progress"
	"reel/internal/transcode"
)

const (
	// TargetDuration is the HLS segment length in seconds.
	TargetDuration = 10
	PlaylistName   = "playlist.m3u8"
	segmentPattern = "segment_%03d.ts"
)

// SegmentName is the file name of the n-th segment of a rendition.
func SegmentName(n int) string {
	return fmt.Sprintf(segmentPattern, n)
}

// Prober checks produced segments.
type Prober interface {
	Inspect(ctx context.Context, path string) (*probe.MediaInfo, error)
}

// Rendition is a segmented rendition on local disk.
type Rendition struct {
	Quality  string
	Dir      string
	Playlist string
	Segments []string
}

type Segmenter struct {
	runner executor.Runner
	prober Prober
	binary string
}

func NewSegmenter(runner executor.Runner, prober Prober, binary string) *Segmenter {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &Segmenter{runner: runner, prober: prober, binary: binary}
}

func (s *Segmenter) Command(input, dir string) *executor.Cmd {
	ffmpeg := executor.NewCmd(s.binary)
	ffmpeg.Add("-hide_banner")
	ffmpeg.Add("-i", input)
	ffmpeg.Add("-c:v", "copy")
	ffmpeg.Add("-c:a", "copy")
	ffmpeg.Add("-bsf:v", "h264_mp4toannexb")
	ffmpeg.Add("-start_number", "0")
	ffmpeg.Add("-hls_time", strconv.Itoa(TargetDuration))
	ffmpeg.Add("-hls_list_size", "0")
	ffmpeg.Add("-hls_segment_filename", filepath.Join(dir, segmentPattern))
	ffmpeg.Add("-hls_flags", "independent_segments")
	ffmpeg.Add("-avoid_negative_ts", "make_zero")
	ffmpeg.Add("-f", "hls")
	ffmpeg.Add("-y", filepath.Join(dir, PlaylistName))

	return ffmpeg
}

// Segment packages a transcoded rendition into HLS segments under dir
// without re-encoding.
func (s *Segmenter) Segment(ctx context.Context, input, dir, quality string, durationSeconds float64, reporter progress.Reporter) (*Rendition, error) {
	if reporter == nil {
		reporter = progress.Discard
	}

	logger := log.WithField("quality", quality)

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, failure.New(failure.Segmentation, "create "+dir, err)
	}

	parser := transcode.NewProgressParser(durationSeconds)

	out, err := s.runner.Run(ctx, s.Command(input, dir), func(line string) {
		if percent, ok := parser.Feed(line); ok {
			reporter.Progress(percent)
		}
	})

	if err != nil {
		return nil, failure.Process(ctx, failure.Segmentation, "segment "+quality, out, err)
	}

	playlist := filepath.Join(dir, PlaylistName)

	if _, err := os.Stat(playlist); err != nil {
		return nil, failure.WithOutput(failure.Segmentation, "segment "+quality, out, errors.New("playlist not produced"))
	}

	segments, err := List(dir)

	if err != nil {
		return nil, failure.New(failure.Segmentation, "segment "+quality, err)
	}

	if len(segments) == 0 {
		return nil, failure.WithOutput(failure.Segmentation, "segment "+quality, out, errors.New("no segments produced"))
	}

	s.verify(ctx, logger, segments[0])

	reporter.Progress(100)

	logger.WithField("segments", len(segments)).Info("rendition segmented")

	return &Rendition{
		Quality:  quality,
		Dir:      dir,
		Playlist: playlist,
		Segments: segments,
	}, nil
}

// verify logs a rendition whose first segment lost its video track.
func (s *Segmenter) verify(ctx context.Context, logger log.FieldLogger, first string) {
	if s.prober == nil {
		return
	}

	info, err := s.prober.Inspect(ctx, first)

	if err != nil {
		logger.WithError(err).WithField("segment", filepath.Base(first)).Error("first segment has no video track")
		return
	}

	logger.WithFields(log.Fields{
		"segment": filepath.Base(first),
		"codec":   info.VideoCodec,
		"size":    fmt.Sprintf("%dx%d", info.Width, info.Height),
	}).Debug("first segment verified")
}

// List returns the segment files of dir ordered by segment number.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "segment_*.ts"))

	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return index(matches[i]) < index(matches[j])
	})

	return matches, nil
}

func index(path string) int {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "segment_"), ".ts")
	n, err := strconv.Atoi(name)

	if err != nil {
		return -1
	}

	return n
}
