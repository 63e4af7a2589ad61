package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/model"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ScorerClient calls the model-serving endpoint:
//
//	POST {base}/predict/{modelId}   body: [ {feature: value, ...}, ... ]
//	GET  {base}/models
//	GET  {base}/health
type ScorerClient struct {
	t *transport
}

// NewScorerClient validates cfg and builds a pooled client.
func NewScorerClient(cfg Config, opts ...Option) (*ScorerClient, error) {
	t, err := newTransport(cfg, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid scorer configuration")
	}
	return &ScorerClient{t: t}, nil
}

type predictResult struct {
	ID          *int     `json:"id"`
	Probability *float64 `json:"probability"`
}

type predictResponse struct {
	Results []predictResult `json:"results"`
}

// Predict scores batch with modelID and returns probabilities in batch order.
// Results are matched to inputs by their batch-local id.  Extra diagnostic
// fields in the response are ignored.
func (c *ScorerClient) Predict(ctx context.Context, modelID string, batch []features.Vector) ([]float64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	var resp predictResponse
	if err := c.t.do(ctx, http.MethodPost, "/predict/"+url.PathEscape(modelID), batch, &resp); err != nil {
		return nil, classify(err, "scorer call failed for "+modelID)
	}
	return resultsInOrder(resp.Results, len(batch))
}

func resultsInOrder(results []predictResult, n int) ([]float64, error) {
	if len(results) != n {
		return nil, apperrors.Newf(apperrors.ErrCodeScorerMalformed,
			"scorer returned %d results for %d inputs", len(results), n)
	}
	out := make([]float64, n)
	seen := make([]bool, n)
	for pos, r := range results {
		idx := pos
		if r.ID != nil {
			idx = *r.ID
		}
		if idx < 0 || idx >= n || seen[idx] {
			return nil, apperrors.Newf(apperrors.ErrCodeScorerMalformed, "result %d has invalid id %d", pos, idx)
		}
		if r.Probability == nil {
			return nil, apperrors.Newf(apperrors.ErrCodeScorerMalformed, "result %d has no probability", idx)
		}
		seen[idx] = true
		out[idx] = *r.Probability
	}
	return out, nil
}

// Models fetches the raw model descriptors.
func (c *ScorerClient) Models(ctx context.Context) ([]model.RawDescriptor, error) {
	var raws []model.RawDescriptor
	if err := c.t.do(ctx, http.MethodGet, "/models", nil, &raws); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeModelSourceFailed, "failed to fetch models")
	}
	return raws, nil
}

// Ping checks the scorer's health endpoint.
func (c *ScorerClient) Ping(ctx context.Context) error {
	if err := c.t.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return classify(err, "scorer health check failed")
	}
	return nil
}

// classify maps transport failures onto scorer error codes: exhausted
// retries are SCR_003, other statuses SCR_001, undecodable bodies SCR_002.
func classify(err error, msg string) error {
	var de *decodeError
	if errors.As(err, &de) {
		return apperrors.Wrap(err, apperrors.ErrCodeScorerMalformed, msg)
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return apperrors.Wrap(err, apperrors.ErrCodeScorerBatchFailed, msg)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeScorerUnavailable, msg)
}

// ScorerModelSource loads descriptors from the scorer's /models endpoint.
type ScorerModelSource struct {
	client *ScorerClient
}

func NewScorerModelSource(client *ScorerClient) *ScorerModelSource {
	return &ScorerModelSource{client: client}
}

func (s *ScorerModelSource) Name() string { return "scorer" }

func (s *ScorerModelSource) Fetch(ctx context.Context) ([]model.RawDescriptor, error) {
	return s.client.Models(ctx)
}

// FileModelSource loads descriptors from a JSON file holding the same array
// the scorer serves.
type FileModelSource struct {
	path string
}

func NewFileModelSource(path string) *FileModelSource {
	return &FileModelSource{path: path}
}

func (s *FileModelSource) Name() string { return "file" }

func (s *FileModelSource) Fetch(ctx context.Context) ([]model.RawDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeModelSourceFailed, "failed to read model file")
	}
	var raws []model.RawDescriptor
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeModelSourceFailed,
			fmt.Sprintf("model file %s is not a JSON array of descriptors", s.path))
	}
	return raws, nil
}
