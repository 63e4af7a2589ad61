package similarity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

func vec(m map[string]interface{}) features.Vector { return features.FromMap(m) }

func population(t *testing.T, rows ...map[string]interface{}) []reference.Record {
	t.Helper()
	vs := make([]features.Vector, len(rows))
	for i, r := range rows {
		vs[i] = vec(r)
	}
	p, err := reference.NewPopulation(reference.Boston, vs)
	require.NoError(t, err)
	return p.Records()
}

func newRanker(t *testing.T) *Ranker {
	t.Helper()
	n, err := NewNormalizer(DefaultNormalizerConfig())
	require.NoError(t, err)
	return NewRanker(n)
}

// ---------------------------------------------------------------------------
// Normalizer
// ---------------------------------------------------------------------------

func TestNormalizerConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultNormalizerConfig().Validate())
	assert.Error(t, NormalizerConfig{LowerPercentile: 0.8, UpperPercentile: 0.2}.Validate())
	assert.Error(t, NormalizerConfig{LowerPercentile: -0.1, UpperPercentile: 0.5}.Validate())
	_, err := NewNormalizer(NormalizerConfig{LowerPercentile: 0.5, UpperPercentile: 1.5})
	assert.Error(t, err)
}

func TestNormalizer_EmpiricalPercentiles(t *testing.T) {
	n, err := NewNormalizer(DefaultNormalizerConfig())
	require.NoError(t, err)

	var rows []features.Vector
	for _, v := range []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5} {
		rows = append(rows, vec(map[string]interface{}{"KDPI": v}))
	}
	b := n.Fit(rows, []string{"KDPI"})
	bd, ok := b.Bound("KDPI")
	require.True(t, ok)
	assert.Equal(t, 3.0, bd.Low)
	assert.Equal(t, 7.0, bd.High)
	assert.Equal(t, 10, bd.Samples)

	assert.Equal(t, 0.0, b.Value(vec(map[string]interface{}{"KDPI": 1}), "KDPI"))
	assert.Equal(t, 0.5, b.Value(vec(map[string]interface{}{"KDPI": 5}), "KDPI"))
	assert.Equal(t, 1.0, b.Value(vec(map[string]interface{}{"KDPI": 10}), "KDPI"))
}

func TestNormalizer_NonNumericExcluded(t *testing.T) {
	n, _ := NewNormalizer(DefaultNormalizerConfig())
	rows := []features.Vector{
		vec(map[string]interface{}{"AGE_DON": 20}),
		vec(map[string]interface{}{"AGE_DON": "unknown"}),
		vec(map[string]interface{}{"AGE_DON": nil}),
		vec(map[string]interface{}{"AGE_DON": 60}),
	}
	b := n.Fit(rows, []string{"AGE_DON"})
	bd, _ := b.Bound("AGE_DON")
	assert.Equal(t, 2, bd.Samples)
	assert.Equal(t, 0.0, b.Value(rows[1], "AGE_DON"))
	assert.Equal(t, 0.0, b.Value(rows[2], "AGE_DON"))
}

func TestNormalizer_DegenerateWindow(t *testing.T) {
	n, _ := NewNormalizer(DefaultNormalizerConfig())
	rows := []features.Vector{
		vec(map[string]interface{}{"CREAT_DON": 1.2, "EMPTY": nil}),
		vec(map[string]interface{}{"CREAT_DON": 1.2, "EMPTY": "x"}),
		vec(map[string]interface{}{"CREAT_DON": 1.2}),
	}
	b := n.Fit(rows, []string{"CREAT_DON", "EMPTY", "ABSENT"})
	for _, r := range rows {
		assert.Equal(t, 0.0, b.Value(r, "CREAT_DON"))
		assert.Equal(t, 0.0, b.Value(r, "EMPTY"))
		assert.Equal(t, 0.0, b.Value(r, "ABSENT"))
	}
	assert.Equal(t, []string{"CREAT_DON", "EMPTY", "ABSENT"}, b.Features())
}

func TestNormalizer_ValuesAlwaysInUnitInterval(t *testing.T) {
	n, _ := NewNormalizer(DefaultNormalizerConfig())
	rng := rand.New(rand.NewSource(7))
	rows := make([]features.Vector, 200)
	for i := range rows {
		rows[i] = vec(map[string]interface{}{"KDPI": rng.NormFloat64() * 50, "BUN_DON": rng.Float64() * 100})
	}
	b := n.Fit(rows, []string{"KDPI", "BUN_DON"})
	for _, r := range rows {
		for _, f := range []string{"KDPI", "BUN_DON"} {
			v := b.Value(r, f)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

// ---------------------------------------------------------------------------
// Distance
// ---------------------------------------------------------------------------

func TestRawDistance(t *testing.T) {
	names := []string{"KDPI", "AGE_DON", "CREAT_DON"}
	a := vec(map[string]interface{}{"KDPI": 40, "AGE_DON": 50, "CREAT_DON": 1.0})
	b := vec(map[string]interface{}{"kdpi": 43, "AGE_DON": 54, "CREAT_DON": "n/a"})

	// Only KDPI and AGE_DON are comparable: sqrt((9+16)/2).
	assert.InDelta(t, math.Sqrt(12.5), RawDistance(a, b, names), 1e-12)
	assert.Equal(t, RawDistance(a, b, names), RawDistance(b, a, names))
	assert.Equal(t, 0.0, RawDistance(a, a, names))
}

func TestRawDistance_NoComparableFeatures(t *testing.T) {
	a := vec(map[string]interface{}{"KDPI": 40})
	b := vec(map[string]interface{}{"AGE_DON": 50})
	assert.True(t, math.IsInf(RawDistance(a, b, []string{"KDPI", "AGE_DON"}), 1))
	assert.True(t, math.IsInf(RawDistance(a, a, nil), 1))
}

func TestRawDistance_SymmetryProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"A", "B", "C", "D"}
	randomVec := func() features.Vector {
		m := map[string]interface{}{}
		for _, n := range names {
			switch rng.Intn(4) {
			case 0:
				m[n] = nil
			case 1:
				m[n] = "text"
			default:
				m[n] = rng.Float64() * 100
			}
		}
		return vec(m)
	}
	for i := 0; i < 200; i++ {
		a, b := randomVec(), randomVec()
		dab, dba := RawDistance(a, b, names), RawDistance(b, a, names)
		if math.IsInf(dab, 1) {
			assert.True(t, math.IsInf(dba, 1))
		} else {
			assert.InDelta(t, dab, dba, 1e-12)
		}
		if !math.IsInf(RawDistance(a, a, names), 1) {
			assert.Equal(t, 0.0, RawDistance(a, a, names))
		}
	}
}

func TestStandardizedDistance(t *testing.T) {
	n, _ := NewNormalizer(DefaultNormalizerConfig())
	names := []string{"KDPI", "MISSING"}
	rows := []features.Vector{
		vec(map[string]interface{}{"KDPI": 0}),
		vec(map[string]interface{}{"KDPI": 10}),
		vec(map[string]interface{}{"KDPI": 20}),
		vec(map[string]interface{}{"KDPI": 30}),
	}
	b := n.Fit(rows, names)
	// p30 = 10, p70 = 20: 0 clamps to 0 and 20 maps to 1.
	assert.InDelta(t, 1.0, StandardizedDistance(rows[0], rows[2], names, b), 1e-12)
	assert.Equal(t, StandardizedDistance(rows[1], rows[3], names, b), StandardizedDistance(rows[3], rows[1], names, b))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, m)
	m, err = ParseMode("Standardized")
	require.NoError(t, err)
	assert.Equal(t, ModeStandardized, m)
	_, err = ParseMode("cosine")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Ranker
// ---------------------------------------------------------------------------

func TestRank_IdenticalRecordRanksFirst(t *testing.T) {
	records := population(t,
		map[string]interface{}{"PTR_SEQUENCE_NUM": "1", "KDPI": 80, "AGE_DON": 60, "CREAT_DON": 2.1, "PTR_OFFER_ACPT": "N"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "2", "KDPI": 35, "AGE_DON": 41, "CREAT_DON": 0.9, "PTR_OFFER_ACPT": "Y"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "3", "KDPI": 55, "AGE_DON": 50, "CREAT_DON": 1.4, "PTR_OFFER_ACPT": "N"},
	)
	target := vec(map[string]interface{}{"KDPI": 35, "AGE_DON": 41, "CREAT_DON": 0.9})
	names := []string{"KDPI", "AGE_DON", "CREAT_DON"}

	ranking, err := newRanker(t).Rank(target, records, names, ModeRaw)
	require.NoError(t, err)
	top := ranking.Top(0)
	require.Len(t, top, 3)
	assert.Equal(t, "2", top[0].Record.Sequence)
	assert.Equal(t, 0.0, top[0].Distance)
	assert.Equal(t, reference.Accepted, top[0].Outcome)
	assert.Equal(t, 1, top[0].Rank)
}

func TestRank_SortedAndInfinityExcluded(t *testing.T) {
	records := population(t,
		map[string]interface{}{"KDPI": 90},
		map[string]interface{}{"OTHER": 1},
		map[string]interface{}{"KDPI": 10},
		map[string]interface{}{"KDPI": "?"},
		map[string]interface{}{"KDPI": 50},
	)
	target := vec(map[string]interface{}{"KDPI": 40})

	for _, mode := range []Mode{ModeRaw, ModeStandardized} {
		ranking, err := newRanker(t).Rank(target, records, []string{"KDPI"}, mode)
		require.NoError(t, err)
		all := ranking.Top(0)
		for i := 1; i < len(all); i++ {
			assert.LessOrEqual(t, all[i-1].Distance, all[i].Distance)
		}
		for _, m := range all {
			assert.False(t, math.IsInf(m.Distance, 1))
		}
		if mode == ModeRaw {
			assert.Equal(t, 3, ranking.Len())
			assert.Equal(t, 2, ranking.Dropped())
		}
	}
}

func TestRank_StableTies(t *testing.T) {
	records := population(t,
		map[string]interface{}{"PTR_SEQUENCE_NUM": "a", "KDPI": 45},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "b", "KDPI": 35},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "c", "KDPI": 45},
	)
	ranking, err := newRanker(t).Rank(vec(map[string]interface{}{"KDPI": 40}), records, []string{"KDPI"}, ModeRaw)
	require.NoError(t, err)
	var seqs []string
	for _, m := range ranking.Top(0) {
		seqs = append(seqs, m.Record.Sequence)
	}
	assert.Equal(t, []string{"a", "b", "c"}, seqs)
}

func TestRank_TopAndNearestRejected(t *testing.T) {
	records := population(t,
		map[string]interface{}{"PTR_SEQUENCE_NUM": "1", "KDPI": 41, "PTR_OFFER_ACPT": "Y"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "2", "KDPI": 42, "PTR_OFFER_ACPT": "Y"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "3", "KDPI": 43, "PTR_OFFER_ACPT": "Y"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "4", "KDPI": 44, "PTR_OFFER_ACPT": "N"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "5", "KDPI": 45, "PTR_OFFER_ACPT": "N"},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "6", "KDPI": 99, "PTR_OFFER_ACPT": "N"},
	)
	ranking, err := newRanker(t).Rank(vec(map[string]interface{}{"KDPI": 40}), records, []string{"KDPI"}, ModeRaw)
	require.NoError(t, err)

	top := ranking.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "1", top[0].Record.Sequence)

	// Rejected records lie outside the top 2 but are still found.
	rejected := ranking.NearestRejected(2)
	require.Len(t, rejected, 2)
	assert.Equal(t, "4", rejected[0].Record.Sequence)
	assert.Equal(t, "5", rejected[1].Record.Sequence)

	assert.Len(t, ranking.NearestWithOutcome(reference.Accepted, 0), 3)
}

func TestRank_InvalidInput(t *testing.T) {
	records := population(t, map[string]interface{}{"KDPI": 1})
	_, err := newRanker(t).Rank(vec(nil), records, nil, ModeRaw)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSimilarityInputInvalid))

	_, err = newRanker(t).Rank(vec(nil), records, []string{"KDPI"}, Mode("manhattan"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSimilarityInputInvalid))
}

// ---------------------------------------------------------------------------
// Compare
// ---------------------------------------------------------------------------

func TestCompare_MatchesStandardizedDistance(t *testing.T) {
	records := population(t,
		map[string]interface{}{"PTR_SEQUENCE_NUM": "1", "KDPI": 10, "AGE_DON": 30},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "2", "KDPI": 50, "AGE_DON": 45},
		map[string]interface{}{"PTR_SEQUENCE_NUM": "3", "KDPI": 90, "AGE_DON": "unknown"},
	)
	target := vec(map[string]interface{}{"KDPI": 40, "AGE_DON": 40})
	names := []string{"KDPI", "AGE_DON"}
	r := newRanker(t)

	c := r.Compare(target, records[2], records, names)
	require.Len(t, c.Rows, 2)
	assert.Equal(t, "AGE_DON", c.Rows[1].Feature)
	assert.Equal(t, 0.0, c.Rows[1].CandidateNormalized)

	ranking, err := r.Rank(target, records, names, ModeStandardized)
	require.NoError(t, err)
	for _, m := range ranking.Top(0) {
		if m.Record.Sequence == "3" {
			assert.InDelta(t, m.Distance, c.Distance, 1e-12)
		}
	}
}
