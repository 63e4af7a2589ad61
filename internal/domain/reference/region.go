// Package reference holds the historical offer records each regional model
// is compared against, plus the static per-region configuration (regions and
// their important feature lists).
package reference

import (
	"strings"

	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// BaselinePlaceholder is the literal feature facility models declare in place
// of their region's baseline probability.
const BaselinePlaceholder = "baseline_prob"

// Region is a named regional population with a short code.
type Region struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var (
	Baltimore = Region{Name: "Baltimore", Code: "BAL"}
	Boston    = Region{Name: "Boston", Code: "BOS"}
	LA        = Region{Name: "LA", Code: "LA"}
)

var regions = []Region{Baltimore, Boston, LA}

// Regions returns the configured regions in a stable order.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// IsZero reports whether r is unset.
func (r Region) IsZero() bool { return r.Name == "" }

// Key is the lower-case name used for file maps and cache keys.
func (r Region) Key() string { return strings.ToLower(r.Name) }

// BaselineField is the field a region's baseline prediction is merged under.
func (r Region) BaselineField() string { return r.Name + "_" + BaselinePlaceholder }

func (r Region) String() string { return r.Name }

// Matches reports whether token names r by name or code, ignoring case.
func (r Region) Matches(token string) bool {
	return strings.EqualFold(token, r.Name) || strings.EqualFold(token, r.Code)
}

// ParseRegion resolves s (a name or code) to a Region.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	for _, r := range regions {
		if r.Matches(s) {
			return r, nil
		}
	}
	if strings.EqualFold(strings.ReplaceAll(s, " ", ""), "losangeles") {
		return LA, nil
	}
	return Region{}, apperrors.Newf(apperrors.ErrCodeRegionUnknown, "unknown region %q", s)
}
