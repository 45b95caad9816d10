package probe

import (
	"reel/internal/failure"
)

// Limits bound what an upload may contain.
type Limits struct {
	MaxDurationSeconds float64
	MinWidth           int
	MinHeight          int
	MaxSizeBytes       int64
}

var DefaultLimits = Limits{
	MaxDurationSeconds: 4 * 60 * 60,
	MinWidth:           320,
	MinHeight:          240,
	MaxSizeBytes:       10 << 30,
}

// Validate checks an inspected upload against the limits.
func Validate(info *MediaInfo, limits Limits) error {
	switch {
	case info == nil:
		return failure.Validationf("no media information")
	case info.DurationSeconds <= 0:
		return failure.Validationf("invalid video duration %.2fs", info.DurationSeconds)
	case info.Width <= 0 || info.Height <= 0:
		return failure.Validationf("invalid video dimensions %dx%d", info.Width, info.Height)
	case limits.MaxDurationSeconds > 0 && info.DurationSeconds > limits.MaxDurationSeconds:
		return failure.Validationf("video too long: %.0fs exceeds %.0fs", info.DurationSeconds, limits.MaxDurationSeconds)
	case info.Width < limits.MinWidth || info.Height < limits.MinHeight:
		return failure.Validationf("video resolution too low: %dx%d, minimum %dx%d", info.Width, info.Height, limits.MinWidth, limits.MinHeight)
	case limits.MaxSizeBytes > 0 && info.SizeBytes > limits.MaxSizeBytes:
		return failure.Validationf("video too large: %d bytes exceeds %d", info.SizeBytes, limits.MaxSizeBytes)
	}

	return nil
}
