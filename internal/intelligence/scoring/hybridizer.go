package scoring

import (
	"strings"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
)

// DefaultExcludedFeatures are derived features left out of the feature
// availability check.  Hybrids still carry them when the reference row has
// them.
var DefaultExcludedFeatures = []string{"time_on_dialysis", "time_since_gfr_less_than_20"}

// Hybridizer builds scoring inputs from a target record and reference rows.
type Hybridizer struct {
	excluded features.ColumnSet
}

// NewHybridizer returns a Hybridizer that skips excluded in availability
// checks.  A nil list uses DefaultExcludedFeatures.
func NewHybridizer(excluded []string) *Hybridizer {
	if excluded == nil {
		excluded = DefaultExcludedFeatures
	}
	return &Hybridizer{excluded: features.NewColumnSet(excluded)}
}

// overlays reports whether a target field replaces the reference value in a
// hybrid: donor-origin fields and merged baseline probabilities.
func overlays(name string) bool {
	if features.IsDonorField(name) {
		return true
	}
	return strings.EqualFold(name, reference.BaselinePlaceholder) ||
		strings.HasSuffix(strings.ToLower(name), "_"+reference.BaselinePlaceholder)
}

// Build overlays target's donor-origin fields onto ref and projects the
// result onto required, in order.  Required features absent from the
// overlaid record are set to null.
func (h *Hybridizer) Build(target, ref features.Vector, required []string) features.Vector {
	merged := ref.ToBuilder()
	target.Range(func(key string, val features.Value) bool {
		if !overlays(key) {
			return true
		}
		if stored, ok := ref.KeyOf(key); ok {
			key = stored
		}
		merged.Set(key, val)
		return true
	})
	hybrid := merged.Build()

	out := features.NewBuilder(len(required))
	for _, name := range required {
		val, ok := hybrid.Lookup(name)
		if !ok {
			val = features.Null()
		}
		out.Set(name, val)
	}
	return out.Build()
}

// MissingFeatures lists the features d requires that are absent from
// columns.  Excluded derived features and, for facility models, the region
// baseline field are not checked here.
func (h *Hybridizer) MissingFeatures(d model.Descriptor, columns features.ColumnSet) []string {
	var missing []string
	for _, name := range d.RequiredFeatures() {
		if h.excluded.Contains(name) {
			continue
		}
		if d.Role == model.RoleFacility && strings.EqualFold(name, d.Region.BaselineField()) {
			continue
		}
		if !columns.Contains(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
