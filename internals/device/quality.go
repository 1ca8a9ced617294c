package device

import (
	"fmt"
	"strings"

	"github.com/adityaadpandey/roomlink/internals/transport"
)

type Quality int

const (
	QualityLow Quality = iota + 1
	QualityMedium
	QualityHigh
)

var presets = map[Quality]transport.Resolution{
	QualityLow:    {Width: 640, Height: 360, FrameRate: 15},
	QualityMedium: {Width: 960, Height: 540, FrameRate: 24},
	QualityHigh:   {Width: 1280, Height: 720, FrameRate: 30},
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

func (q Quality) Valid() bool {
	_, ok := presets[q]
	return ok
}

// Resolution returns the capture preset for q.
func (q Quality) Resolution() transport.Resolution {
	return presets[q]
}

func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	}
	return 0, fmt.Errorf("unknown video quality %q", s)
}
