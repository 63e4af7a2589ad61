package embedding

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// DefaultMaxPoints caps the points handed to a backend, target included.
const DefaultMaxPoints = 5000

// Config tunes a Projector.
type Config struct {
	MaxPoints int   `json:"max_points" yaml:"max_points"`
	Seed      int64 `json:"seed" yaml:"seed"`
}

// ProjectedPoint is a laid-out record.  The target has Index -1.
type ProjectedPoint struct {
	Point
	Index    int               `json:"index"`
	Sequence string            `json:"sequence,omitempty"`
	Outcome  reference.Outcome `json:"outcome"`
	Target   bool              `json:"target,omitempty"`
}

// Projection is the 2-D layout of a target and its population.  Points[0] is
// the target; the rest follow population order.
type Projection struct {
	RecordID   string           `json:"record_id"`
	Backend    string           `json:"backend"`
	Columns    []string         `json:"columns"`
	Params     Params           `json:"params"`
	Points     []ProjectedPoint `json:"points"`
	Population int              `json:"population"`
	Sampled    bool             `json:"sampled"`
	DurationMs float64          `json:"duration_ms"`
}

// Coordinates returns the points as [x, y] pairs.
func (p *Projection) Coordinates() [][2]float64 {
	out := make([][2]float64, len(p.Points))
	for i, pt := range p.Points {
		out[i] = [2]float64{pt.X, pt.Y}
	}
	return out
}

// Projector prepares the matrix and runs the configured backend.
type Projector struct {
	embedder Embedder
	cfg      Config
	logger   logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProjector returns a Projector over embedder.
func NewProjector(embedder Embedder, cfg Config, logger logging.Logger) *Projector {
	if cfg.MaxPoints <= 1 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Projector{
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Backend names the embedder in use.
func (p *Projector) Backend() string { return p.embedder.Name() }

// Project lays target and records out over the numeric columns of names.
func (p *Projector) Project(ctx context.Context, target features.Vector, records []reference.Record, names []string) (*Projection, error) {
	if len(records) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingInsufficient, "reference population is empty")
	}
	start := time.Now()

	kept, sampled := p.subsample(records)
	rows := make([]features.Vector, len(kept))
	for i, r := range kept {
		rows[i] = r.Features
	}
	m := BuildMatrix(target, rows, names)
	if _, d := m.Dims(); d == 0 {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingInsufficient, "no numeric features to embed")
	}
	m.Standardize()

	n, _ := m.Dims()
	params := ParamsFor(n, p.cfg.Seed)
	coords, err := p.embedder.Embed(ctx, m, params)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnknown, "embedding failed")
	}
	if len(coords) != n {
		return nil, apperrors.Newf(apperrors.ErrCodeEmbeddingFailed,
			"%s returned %d points for %d rows", p.embedder.Name(), len(coords), n)
	}

	proj := &Projection{
		RecordID:   RecordID(target),
		Backend:    p.embedder.Name(),
		Columns:    m.Columns,
		Params:     params,
		Points:     make([]ProjectedPoint, n),
		Population: len(records),
		Sampled:    sampled,
	}
	proj.Points[0] = ProjectedPoint{Point: coords[0], Index: -1, Target: true}
	for i, r := range kept {
		proj.Points[i+1] = ProjectedPoint{Point: coords[i+1], Index: r.Index, Sequence: r.Sequence, Outcome: r.Outcome}
	}
	proj.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0

	p.logger.Debug("projection computed",
		logging.String("backend", proj.Backend),
		logging.Int("points", n),
		logging.Int("columns", len(m.Columns)),
		logging.Bool("sampled", sampled))
	return proj, nil
}

// subsample keeps at most MaxPoints-1 records, in population order.
func (p *Projector) subsample(records []reference.Record) ([]reference.Record, bool) {
	limit := p.cfg.MaxPoints - 1
	if len(records) <= limit {
		return records, false
	}
	p.mu.Lock()
	idx := p.rng.Perm(len(records))[:limit]
	p.mu.Unlock()
	sort.Ints(idx)

	out := make([]reference.Record, limit)
	for i, k := range idx {
		out[i] = records[k]
	}
	return out, true
}

// RecordID is the target's sequence number, or "unknown".
func RecordID(v features.Vector) string {
	if val, ok := v.Lookup(reference.SequenceField); ok && !val.IsNull() {
		return val.String()
	}
	return "unknown"
}
