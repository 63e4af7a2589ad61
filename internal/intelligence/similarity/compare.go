package similarity

import (
	"math"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
)

// FeatureComparison is one row of a target-versus-candidate table.
type FeatureComparison struct {
	Feature             string         `json:"feature"`
	Target              features.Value `json:"target"`
	Candidate           features.Value `json:"candidate"`
	Low                 float64        `json:"p_low"`
	High                float64        `json:"p_high"`
	TargetNormalized    float64        `json:"target_normalized"`
	CandidateNormalized float64        `json:"candidate_normalized"`
	SquaredDifference   float64        `json:"squared_difference"`
}

// Comparison is the per-feature breakdown of the standardized distance
// between a target and one reference record.
type Comparison struct {
	Candidate reference.Record    `json:"candidate"`
	Distance  float64             `json:"distance"`
	Rows      []FeatureComparison `json:"rows"`
}

// Compare fits the windows over target plus population and breaks the
// standardized distance to candidate down by feature.  Distance equals
// StandardizedDistance under the same windows.
func (r *Ranker) Compare(target features.Vector, candidate reference.Record, population []reference.Record, names []string) *Comparison {
	bounds := r.normalizer.Fit(comparisonSet(target, population), names)

	c := &Comparison{Candidate: candidate, Rows: make([]FeatureComparison, 0, len(names))}
	var sum float64
	for _, name := range names {
		bd, _ := bounds.Bound(name)
		tv, _ := target.Lookup(name)
		cv, _ := candidate.Features.Lookup(name)
		tn := bounds.Value(target, name)
		cn := bounds.Value(candidate.Features, name)
		sq := (tn - cn) * (tn - cn)
		sum += sq
		c.Rows = append(c.Rows, FeatureComparison{
			Feature:             name,
			Target:              tv,
			Candidate:           cv,
			Low:                 bd.Low,
			High:                bd.High,
			TargetNormalized:    tn,
			CandidateNormalized: cn,
			SquaredDifference:   sq,
		})
	}
	c.Distance = math.Sqrt(sum)
	return c
}
