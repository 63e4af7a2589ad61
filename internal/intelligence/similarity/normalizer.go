// Package similarity ranks reference records by their distance to a target
// record under a raw or a percentile-standardized Euclidean metric.
package similarity

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
)

// Default percentile bounds of the standardization window.
const (
	DefaultLowerPercentile = 0.30
	DefaultUpperPercentile = 0.70
)

// NormalizerConfig holds the percentile window, as fractions in [0,1].
type NormalizerConfig struct {
	LowerPercentile float64 `json:"lower_percentile" yaml:"lower_percentile"`
	UpperPercentile float64 `json:"upper_percentile" yaml:"upper_percentile"`
}

// DefaultNormalizerConfig returns the 30th/70th percentile window.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{LowerPercentile: DefaultLowerPercentile, UpperPercentile: DefaultUpperPercentile}
}

// Validate checks 0 <= lower <= upper <= 1.
func (c NormalizerConfig) Validate() error {
	if c.LowerPercentile < 0 || c.UpperPercentile > 1 || c.LowerPercentile > c.UpperPercentile {
		return fmt.Errorf("similarity: percentile window [%v, %v] must satisfy 0 <= lower <= upper <= 1",
			c.LowerPercentile, c.UpperPercentile)
	}
	return nil
}

// Bound is the standardization window of one feature.
type Bound struct {
	Feature string  `json:"feature"`
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	// Samples is the number of numeric values the window was computed from.
	Samples int `json:"samples"`
}

// Range returns High - Low.
func (b Bound) Range() float64 { return b.High - b.Low }

// Normalize maps v into [0,1].  A degenerate window maps everything to 0.
func (b Bound) Normalize(v float64) float64 {
	r := b.Range()
	if r <= 0 {
		return 0
	}
	n := (v - b.Low) / r
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	default:
		return n
	}
}

// Bounds holds the fitted window of every requested feature.  It is local to
// one comparison call and never cached.
type Bounds struct {
	byFeature map[string]Bound
	order     []string
}

// Normalizer computes per-feature percentile windows over a record set.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer returns a Normalizer for cfg.
func NewNormalizer(cfg NormalizerConfig) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{cfg: cfg}, nil
}

// Fit computes the window of every feature in names over records.  Values
// that are absent or not numeric are left out of the percentile computation.
// A feature with no numeric value at all gets a zero-width window.
func (n *Normalizer) Fit(records []features.Vector, names []string) *Bounds {
	b := &Bounds{byFeature: make(map[string]Bound, len(names)), order: append([]string(nil), names...)}
	for _, name := range names {
		values := make([]float64, 0, len(records))
		for _, r := range records {
			if f, ok := r.Number(name); ok {
				values = append(values, f)
			}
		}
		bound := Bound{Feature: name, Samples: len(values)}
		if len(values) > 0 {
			sort.Float64s(values)
			bound.Low = stat.Quantile(n.cfg.LowerPercentile, stat.Empirical, values, nil)
			bound.High = stat.Quantile(n.cfg.UpperPercentile, stat.Empirical, values, nil)
		}
		b.byFeature[name] = bound
	}
	return b
}

// Bound returns the window of feature.
func (b *Bounds) Bound(feature string) (Bound, bool) {
	bd, ok := b.byFeature[feature]
	return bd, ok
}

// Features returns the fitted feature names in fit order.
func (b *Bounds) Features() []string { return append([]string(nil), b.order...) }

// Value returns the normalized value of feature in v.  A missing or
// non-numeric value, or an unfitted feature, normalizes to 0.
func (b *Bounds) Value(v features.Vector, feature string) float64 {
	bd, ok := b.byFeature[feature]
	if !ok {
		return 0
	}
	f, ok := v.Number(feature)
	if !ok {
		return 0
	}
	return bd.Normalize(f)
}
