package scoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/intelligence/common"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

const (
	DefaultSampleSize     = 10
	DefaultBatchSize      = 10
	DefaultMaxConcurrency = 4
	DefaultBatchTimeout   = 30 * time.Second
)

// Config tunes a Pipeline.
type Config struct {
	// SampleSize is the number of reference rows hybridized per record when
	// a run does not ask for another size.
	SampleSize int `json:"sample_size" yaml:"sample_size"`
	// BatchSize is the number of hybrids sent per scorer call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// MaxConcurrency bounds records scored in parallel per model, and scorer
	// calls in flight per record.
	MaxConcurrency   int           `json:"max_concurrency" yaml:"max_concurrency"`
	BatchTimeout     time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	ExcludedFeatures []string      `json:"excluded_features" yaml:"excluded_features"`
	Seed             int64         `json:"seed" yaml:"seed"`
	// BreakerThreshold consecutive scorer failures stop further calls for
	// BreakerCooldown.  Zero disables the breaker.
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		SampleSize:       DefaultSampleSize,
		BatchSize:        DefaultBatchSize,
		MaxConcurrency:   DefaultMaxConcurrency,
		BatchTimeout:     DefaultBatchTimeout,
		ExcludedFeatures: append([]string(nil), DefaultExcludedFeatures...),
		Seed:             time.Now().UnixNano(),
	}
}

func (c *Config) applyDefaults() {
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
}

// ---------------------------------------------------------------------------
// Request / Result
// ---------------------------------------------------------------------------

// RunRequest asks for every record to be scored under every model.
type RunRequest struct {
	Records []features.Vector
	Models  []model.Descriptor
	// SampleSize overrides Config.SampleSize when positive.
	SampleSize int
}

// RunResult partitions a run into scored models and skipped ones.
type RunResult struct {
	Predictions []*ModelPrediction `json:"predictions"`
	// MissingFeatures maps a skipped model to the features it lacked.
	MissingFeatures map[string][]string `json:"missing_features"`
	// ConfigurationErrors maps a model that could not be evaluated to the
	// reason.
	ConfigurationErrors map[string]string `json:"configuration_errors,omitempty"`
	// ReferenceErrors maps a model whose region's reference data could not
	// be loaded to the load error.
	ReferenceErrors map[string]string `json:"reference_errors,omitempty"`
	// NothingSucceeded is set when no scorer batch succeeded for any model.
	NothingSucceeded bool    `json:"nothing_succeeded"`
	Records          int     `json:"records"`
	SampleSize       int     `json:"sample_size"`
	DurationMs       float64 `json:"duration_ms"`
}

// Skipped counts the models that were not scored.
func (r *RunResult) Skipped() int {
	return len(r.MissingFeatures) + len(r.ConfigurationErrors) + len(r.ReferenceErrors)
}

// Prediction returns the result for modelID, or nil.
func (r *RunResult) Prediction(modelID string) *ModelPrediction {
	for _, p := range r.Predictions {
		if p.ModelID == modelID {
			return p
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSampler replaces the seeded sampler.
func WithSampler(s *Sampler) Option {
	return func(p *Pipeline) { p.sampler = s }
}

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline scores records in two phases: baseline models first, then
// facility models against records carrying their region's baseline
// probability, then every other model against the original records.
type Pipeline struct {
	cfg         Config
	scorer      Scorer
	populations PopulationSource
	hybridizer  *Hybridizer
	sampler     *Sampler
	batches     common.BatchProcessor[[]features.Vector, []float64]
	metrics     common.IntelligenceMetrics
	logger      logging.Logger
}

// NewPipeline wires a Pipeline to its scorer and reference populations.
func NewPipeline(cfg Config, scorer Scorer, populations PopulationSource, opts ...Option) (*Pipeline, error) {
	if scorer == nil {
		return nil, apperrors.InvalidParam("scorer must not be nil")
	}
	if populations == nil {
		return nil, apperrors.InvalidParam("population source must not be nil")
	}
	cfg.applyDefaults()

	p := &Pipeline{
		cfg:         cfg,
		scorer:      scorer,
		populations: populations,
		hybridizer:  NewHybridizer(cfg.ExcludedFeatures),
	}
	for _, o := range opts {
		o(p)
	}
	if p.sampler == nil {
		p.sampler = NewSampler(cfg.Seed)
	}
	if p.metrics == nil {
		p.metrics = common.NewNoopIntelligenceMetrics()
	}
	if p.logger == nil {
		p.logger = logging.NewNopLogger()
	}
	p.batches = common.NewBatchProcessor[[]features.Vector, []float64](
		common.WithName("scorer"),
		common.WithMaxConcurrency(cfg.MaxConcurrency),
		common.WithItemTimeout(cfg.BatchTimeout),
		common.WithCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		common.WithBatchMetrics(p.metrics),
		common.WithBatchLogger(p.logger),
	)
	return p, nil
}

// Shutdown stops accepting runs and waits for in-flight scorer calls.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.batches.Shutdown(ctx)
}

var phases = []model.Role{model.RoleBaseline, model.RoleFacility, model.RoleOther}

// Run scores req.Records under req.Models.  Models lacking features are
// reported in MissingFeatures, never partially scored.  Cancelling ctx stops
// new scorer calls; calls already running finish or time out, and Run returns
// an error wrapping ctx.Err().
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if len(req.Records) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeScoringInputInvalid, "no records to score")
	}
	if len(req.Models) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeScoringInputInvalid, "no models selected")
	}
	sampleSize := req.SampleSize
	if sampleSize <= 0 {
		sampleSize = p.cfg.SampleSize
	}

	start := time.Now()
	r := &run{
		Pipeline:   p,
		records:    req.Records,
		sampleSize: sampleSize,
		baselines:  make(map[string][]float64),
		result: &RunResult{
			MissingFeatures:     make(map[string][]string),
			ConfigurationErrors: make(map[string]string),
			ReferenceErrors:     make(map[string]string),
			Records:            len(req.Records),
			SampleSize:          sampleSize,
		},
	}

	for _, role := range phases {
		for _, d := range req.Models {
			if d.Role != role {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, r.stopped(ctx, start, err)
			}
			if err := r.scoreModel(ctx, d); err != nil {
				if ctx.Err() != nil {
					return nil, r.stopped(ctx, start, ctx.Err())
				}
				return nil, err
			}
		}
	}

	res := r.result
	res.NothingSucceeded = true
	for _, pred := range res.Predictions {
		if pred.Succeeded() {
			res.NothingSucceeded = false
			break
		}
	}
	res.DurationMs = msSince(start)
	p.recordRun(ctx, res, false)

	p.logger.Info("prediction run finished",
		logging.Int("records", res.Records),
		logging.Int("models_scored", len(res.Predictions)),
		logging.Int("models_skipped", res.Skipped()),
		logging.Bool("nothing_succeeded", res.NothingSucceeded),
		logging.Float64("duration_ms", res.DurationMs))
	return res, nil
}

func (p *Pipeline) recordRun(ctx context.Context, res *RunResult, cancelled bool) {
	p.metrics.RecordPredictionRun(ctx, &common.RunMetricParams{
		Records:          res.Records,
		ModelsScored:     len(res.Predictions),
		ModelsSkipped:    res.Skipped(),
		NothingSucceeded: res.NothingSucceeded,
		Cancelled:        cancelled,
		DurationMs:       res.DurationMs,
	})
}

// run is the state of one Run call.
type run struct {
	*Pipeline
	records    []features.Vector
	sampleSize int
	// baselines holds each region's baseline probabilities, in record order.
	baselines map[string][]float64
	result    *RunResult
}

func (r *run) stopped(ctx context.Context, start time.Time, cause error) error {
	r.result.DurationMs = msSince(start)
	r.recordRun(context.WithoutCancel(ctx), r.result, true)
	r.logger.Warn("prediction run stopped",
		logging.Int("models_scored", len(r.result.Predictions)),
		logging.Err(cause))
	return fmt.Errorf("scoring: run stopped after %d models: %w", len(r.result.Predictions), cause)
}

func (r *run) scoreModel(ctx context.Context, d model.Descriptor) error {
	log := r.logger.With(logging.ModelID(d.ID), logging.String("role", string(d.Role)))

	if !d.HasRegion() {
		r.result.ConfigurationErrors[d.ID] = "cannot determine the region of model " + d.ID
		log.Warn("model skipped: no region")
		return nil
	}

	inputs := r.records
	if d.DependsOnBaseline() {
		probs, ok := r.baselines[d.Region.Name]
		if !ok {
			r.result.MissingFeatures[d.ID] = []string{d.Region.BaselineField()}
			log.Info("model skipped: no baseline predictions", logging.City(d.Region.Name))
			return nil
		}
		inputs = withBaseline(r.records, d.Region, probs)
	}

	if missing := r.hybridizer.MissingFeatures(d, features.NewColumnSet(features.Columns(inputs))); len(missing) > 0 {
		r.result.MissingFeatures[d.ID] = missing
		log.Info("model skipped: missing features", logging.Strings("features", missing))
		return nil
	}

	pop, err := r.populations.Get(ctx, d.Region)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.result.ReferenceErrors[d.ID] = referenceFailure(d.Region, err)
		log.Warn("model skipped: reference data unavailable", logging.City(d.Region.Name), logging.Err(err))
		return nil
	}

	pred := &ModelPrediction{
		ModelID:   d.ID,
		ModelName: d.Name,
		Role:      string(d.Role),
		Region:    d.Region.Name,
		Records:   make([]RecordPrediction, len(inputs)),
	}
	required := d.RequiredFeatures()

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrency)
	for i := range inputs {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			pred.Records[i] = r.scoreRecord(ctx, d, i, inputs[i], pop, required)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	pred.finalize()
	r.result.Predictions = append(r.result.Predictions, pred)

	if d.Role == model.RoleBaseline && pred.Succeeded() {
		if _, dup := r.baselines[d.Region.Name]; dup {
			log.Warn("second baseline model for region ignored for facility input", logging.City(d.Region.Name))
		} else {
			r.baselines[d.Region.Name] = pred.Probabilities()
		}
	}
	log.Info("model scored", logging.Float64("mean_probability", pred.MeanProbability))
	return nil
}

// scoreRecord hybridizes one record with sampled reference rows and averages
// the probabilities of every scorer batch that succeeded.
func (r *run) scoreRecord(ctx context.Context, d model.Descriptor, idx int, target features.Vector,
	pop *reference.Population, required []string) RecordPrediction {

	sample := r.sampler.Sample(pop.Len(), r.sampleSize)
	hybrids := make([]features.Vector, len(sample))
	for j, k := range sample {
		hybrids[j] = r.hybridizer.Build(target, pop.At(k).Features, required)
	}
	chunks := chunk(hybrids, r.cfg.BatchSize)

	rp := RecordPrediction{RecordIndex: idx, RecordID: recordID(target, idx), Batches: len(chunks)}
	br, err := r.batches.Process(ctx, chunks, func(ctx context.Context, batch []features.Vector) ([]float64, error) {
		start := time.Now()
		probs, err := r.scorer.Predict(ctx, d.ID, batch)
		if err == nil {
			err = checkBatch(len(batch), probs)
		}
		r.metrics.RecordInference(ctx, &common.InferenceMetricParams{
			ModelID:    d.ID,
			Role:       string(d.Role),
			Region:     d.Region.Name,
			DurationMs: msSince(start),
			Success:    err == nil,
			BatchSize:  len(batch),
		})
		return probs, err
	})
	if err != nil {
		rp.FailedBatches = len(chunks)
		r.logger.Warn("record not scored", logging.ModelID(d.ID), logging.RecordIndex(idx), logging.Err(err))
		return rp
	}

	var pooled []float64
	for _, item := range br.Results {
		if item.Status == common.ItemStatusSuccess {
			pooled = append(pooled, item.Result...)
			continue
		}
		rp.FailedBatches++
		if item.Status != common.ItemStatusCancelled {
			r.logger.Warn("scorer batch failed",
				logging.ModelID(d.ID),
				logging.RecordIndex(idx),
				logging.BatchIndex(item.Index),
				logging.Err(item.Error))
		}
	}
	rp.Hybrids = len(pooled)
	rp.Probability = meanOrZero(pooled)
	return rp
}

// withBaseline returns copies of records carrying region's baseline
// probability under both the region field and the bare placeholder.
func withBaseline(records []features.Vector, region reference.Region, probs []float64) []features.Vector {
	out := make([]features.Vector, len(records))
	for i, v := range records {
		b := v.ToBuilder()
		b.Set(region.BaselineField(), features.Number(probs[i]))
		b.Set(reference.BaselinePlaceholder, features.Number(probs[i]))
		out[i] = b.Build()
	}
	return out
}

func referenceFailure(region reference.Region, err error) string {
	msg := "no reference data for region " + region.Name
	if code := apperrors.GetCode(err); code != apperrors.CodeUnknown {
		msg = "[" + string(code) + "] " + msg
	}
	return msg
}

func chunk(vs []features.Vector, size int) [][]features.Vector {
	var out [][]features.Vector
	for len(vs) > 0 {
		n := size
		if n > len(vs) {
			n = len(vs)
		}
		out = append(out, vs[:n:n])
		vs = vs[n:]
	}
	return out
}

// recordID is the record's sequence number, or its position when it has none.
func recordID(v features.Vector, idx int) string {
	if val, ok := v.Lookup(reference.SequenceField); ok && !val.IsNull() {
		return val.String()
	}
	return strconv.Itoa(idx)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
