package similarity

import (
	"math"
	"sort"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// NeighborMatch is a reference record with its distance to the target.
type NeighborMatch struct {
	Rank     int               `json:"rank"`
	Distance float64           `json:"distance"`
	Outcome  reference.Outcome `json:"outcome"`
	Record   reference.Record  `json:"record"`
}

// Ranking is a population ordered by ascending distance to a target.  Ties
// keep population order; records with no comparable feature are dropped.
type Ranking struct {
	Mode     Mode     `json:"mode"`
	Features []string `json:"features"`
	matches  []NeighborMatch
	dropped  int
}

// Len returns the number of ranked records.
func (r *Ranking) Len() int { return len(r.matches) }

// Dropped returns how many records had an infinite distance.
func (r *Ranking) Dropped() int { return r.dropped }

// Top returns the k nearest records; k <= 0 returns all of them.
func (r *Ranking) Top(k int) []NeighborMatch {
	if k <= 0 || k > len(r.matches) {
		k = len(r.matches)
	}
	return append([]NeighborMatch(nil), r.matches[:k]...)
}

// NearestWithOutcome filters to records with outcome before truncating to k.
func (r *Ranking) NearestWithOutcome(outcome reference.Outcome, k int) []NeighborMatch {
	var out []NeighborMatch
	for _, m := range r.matches {
		if m.Outcome != outcome {
			continue
		}
		out = append(out, m)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

// NearestRejected returns the n nearest rejected-outcome records.
func (r *Ranking) NearestRejected(n int) []NeighborMatch {
	return r.NearestWithOutcome(reference.Rejected, n)
}

// Ranker orders reference records by distance to a target.
type Ranker struct {
	normalizer *Normalizer
}

// NewRanker returns a Ranker whose standardized mode uses normalizer.
func NewRanker(normalizer *Normalizer) *Ranker {
	return &Ranker{normalizer: normalizer}
}

// Rank computes the distance of every record to target over names.  In
// standardized mode the windows are fitted over target plus records.
func (r *Ranker) Rank(target features.Vector, records []reference.Record, names []string, mode Mode) (*Ranking, error) {
	if len(names) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeSimilarityInputInvalid, "no features to compare")
	}

	var distance func(features.Vector) float64
	switch mode {
	case ModeRaw, "":
		mode = ModeRaw
		distance = func(v features.Vector) float64 { return RawDistance(target, v, names) }
	case ModeStandardized:
		bounds := r.normalizer.Fit(comparisonSet(target, records), names)
		distance = func(v features.Vector) float64 { return StandardizedDistance(target, v, names, bounds) }
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeSimilarityInputInvalid, "unknown distance mode %q", mode)
	}

	ranking := &Ranking{Mode: mode, Features: append([]string(nil), names...)}
	ranking.matches = make([]NeighborMatch, 0, len(records))
	for _, rec := range records {
		d := distance(rec.Features)
		if math.IsInf(d, 1) || math.IsNaN(d) {
			ranking.dropped++
			continue
		}
		ranking.matches = append(ranking.matches, NeighborMatch{Distance: d, Outcome: rec.Outcome, Record: rec})
	}
	sort.SliceStable(ranking.matches, func(i, j int) bool {
		return ranking.matches[i].Distance < ranking.matches[j].Distance
	})
	for i := range ranking.matches {
		ranking.matches[i].Rank = i + 1
	}
	return ranking, nil
}

func comparisonSet(target features.Vector, records []reference.Record) []features.Vector {
	set := make([]features.Vector, 0, len(records)+1)
	set = append(set, target)
	for _, rec := range records {
		set = append(set, rec.Features)
	}
	return set
}
