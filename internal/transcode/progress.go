package transcode

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timeMarker = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
	padding    = regexp.MustCompile(`=\s+`)
)

// Stats is one ffmpeg stats line.
type Stats struct {
	Frame   string
	Time    string
	Bitrate string
	Speed   string
	Elapsed time.Duration
}

// ParseStats extracts the elapsed time marker and the neighbouring stats
// fields from a line of encoder output.
func ParseStats(line string) (Stats, bool) {
	m := timeMarker.FindStringSubmatch(line)

	if m == nil {
		return Stats{}, false
	}

	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	cs, _ := strconv.Atoi(m[4])

	stats := Stats{
		Time: strings.TrimPrefix(m[0], "time="),
		Elapsed: time.Duration(h)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(sec)*time.Second +
			time.Duration(cs)*10*time.Millisecond,
	}

	for _, field := range strings.Fields(padding.ReplaceAllString(line, "=")) {
		kv := strings.SplitN(field, "=", 2)

		if len(kv) != 2 {
			continue
		}

		switch kv[0] {
		case "frame":
			stats.Frame = kv[1]
		case "bitrate":
			stats.Bitrate = kv[1]
		case "speed":
			stats.Speed = kv[1]
		}
	}

	return stats, true
}

// ProgressParser turns encoder output lines into throttled percentages of a
// known source duration.
type ProgressParser struct {
	duration time.Duration
	step     float64
	last     float64
}

func NewProgressParser(durationSeconds float64) *ProgressParser {
	return &ProgressParser{
		duration: time.Duration(durationSeconds * float64(time.Second)),
		step:     1,
	}
}

// Feed returns a new percentage when the line moves progress forward by at
// least one point since the previous report.
func (p *ProgressParser) Feed(line string) (float64, bool) {
	if p.duration <= 0 {
		return 0, false
	}

	stats, ok := ParseStats(line)

	if !ok {
		return 0, false
	}

	percent := stats.Elapsed.Seconds() * 100 / p.duration.Seconds()

	if percent > 100 {
		percent = 100
	}

	if percent-p.last < p.step {
		return 0, false
	}

	p.last = percent
	return percent, true
}

// Last is the most recently reported percentage.
func (p *ProgressParser) Last() float64 {
	return p.last
}
