package probe

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"reel/internal/executor"
	"reel/internal/failure"
)

// MediaInfo is the metadata the pipeline needs from a source file.
type MediaInfo struct {
	DurationSeconds float64 `json:"durationSeconds" yaml:"durationSeconds"`
	Width           int     `json:"width" yaml:"width"`
	Height          int     `json:"height" yaml:"height"`
	FPS             float64 `json:"fps" yaml:"fps"`
	VideoCodec      string  `json:"videoCodec" yaml:"videoCodec"`
	AudioCodec      string  `json:"audioCodec,omitempty" yaml:"audioCodec,omitempty"`
	ContainerFormat string  `json:"containerFormat" yaml:"containerFormat"`
	SizeBytes       int64   `json:"sizeBytes" yaml:"sizeBytes"`
	Bitrate         int64   `json:"bitrate" yaml:"bitrate"`
}

type Inspector struct {
	runner executor.Runner
	binary string
}

func NewInspector(runner executor.Runner, binary string) *Inspector {
	if binary == "" {
		binary = "ffprobe"
	}

	return &Inspector{runner: runner, binary: binary}
}

// Inspect probes a local file. Any failure is a media inspection error.
func (i *Inspector) Inspect(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := executor.NewCmd(i.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := i.runner.Output(ctx, cmd)

	if err != nil {
		return nil, failure.New(failure.MediaInspection, "probe "+path, err)
	}

	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe output into MediaInfo.
func ParseJSON(data []byte) (*MediaInfo, error) {
	var raw ffprobeOutput

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, failure.New(failure.MediaInspection, "parse ffprobe output", err)
	}

	info := &MediaInfo{
		DurationSeconds: parseFloat(raw.Format.Duration),
		ContainerFormat: raw.Format.FormatName,
		SizeBytes:       parseInt64(raw.Format.Size),
		Bitrate:         parseInt64(raw.Format.BitRate),
	}

	var video *ffprobeStream

	for i := range raw.Streams {
		s := &raw.Streams[i]

		switch s.CodecType {
		case "video":
			if video == nil && s.Disposition["attached_pic"] != 1 {
				video = s
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	if video == nil {
		return nil, failure.New(failure.MediaInspection, "inspect streams", errors.New("no video stream found"))
	}

	info.Width = video.Width
	info.Height = video.Height
	info.VideoCodec = video.CodecName
	info.FPS = parseRate(video.RFrameRate)

	if info.DurationSeconds == 0 {
		info.DurationSeconds = parseFloat(video.Duration)
	}

	return info, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index       int            `json:"index"`
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	RFrameRate  string         `json:"r_frame_rate"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// parseRate reads ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)

	num := parseFloat(parts[0])

	if len(parts) == 1 {
		return num
	}

	den := parseFloat(parts[1])

	if den == 0 {
		return 0
	}

	return num / den
}
