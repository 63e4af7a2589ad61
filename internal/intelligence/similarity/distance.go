package similarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
)

// Mode selects the distance definition.
type Mode string

const (
	// ModeRaw averages squared raw differences over the comparable features.
	ModeRaw Mode = "raw"
	// ModeStandardized sums squared differences of percentile-normalized
	// values over every requested feature.
	ModeStandardized Mode = "standardized"
)

// ParseMode accepts raw or standardized, ignoring case.  Empty means raw.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRaw:
		return ModeRaw, nil
	case ModeStandardized:
		return ModeStandardized, nil
	}
	return "", fmt.Errorf("similarity: unknown distance mode %q", s)
}

// RawDistance returns sqrt(sum of squared differences / comparable count)
// over the features both a and b hold as numbers.  Lookups ignore case.
// With no comparable feature the distance is +Inf.
func RawDistance(a, b features.Vector, names []string) float64 {
	var sum float64
	var count int
	for _, name := range names {
		x, ok := a.Number(name)
		if !ok {
			continue
		}
		y, ok := b.Number(name)
		if !ok {
			continue
		}
		d := x - y
		sum += d * d
		count++
	}
	if count == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(sum / float64(count))
}

// StandardizedDistance returns sqrt(sum of squared differences) of the
// normalized values of a and b under bounds, over every name.  Features
// without usable data contribute 0.
func StandardizedDistance(a, b features.Vector, names []string, bounds *Bounds) float64 {
	var sum float64
	for _, name := range names {
		d := bounds.Value(a, name) - bounds.Value(b, name)
		sum += d * d
	}
	return math.Sqrt(sum)
}
