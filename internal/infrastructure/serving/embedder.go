package serving

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/turtacn/KidneyMatch/internal/intelligence/embedding"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// HTTPEmbedder delegates the 2-D layout to an external UMAP/t-SNE service:
//
//	POST {base}/embed  {"columns": [...], "matrix": [[...]], "n_neighbors": k, "perplexity": p, "seed": s}
//	-> {"coordinates": [[x, y], ...]}
type HTTPEmbedder struct {
	t *transport
}

var _ embedding.Embedder = (*HTTPEmbedder)(nil)

func NewHTTPEmbedder(cfg Config, opts ...Option) (*HTTPEmbedder, error) {
	t, err := newTransport(cfg, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid embedder configuration")
	}
	return &HTTPEmbedder{t: t}, nil
}

func (e *HTTPEmbedder) Name() string { return "http" }

type embedRequest struct {
	Columns    []string    `json:"columns"`
	Matrix     [][]float64 `json:"matrix"`
	NNeighbors int         `json:"n_neighbors"`
	Perplexity float64     `json:"perplexity"`
	Seed       int64       `json:"seed"`
}

type embedResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, m *embedding.Matrix, params embedding.Params) ([]embedding.Point, error) {
	n, _ := m.Dims()
	req := embedRequest{
		Columns:    m.Columns,
		Matrix:     m.Rows,
		NNeighbors: params.NNeighbors,
		Perplexity: params.Perplexity,
		Seed:       params.Seed,
	}
	var resp embedResponse
	if err := e.t.do(ctx, http.MethodPost, "/embed", req, &resp); err != nil {
		var de *decodeError
		switch {
		case errors.As(err, &de):
			return nil, apperrors.Wrap(err, apperrors.ErrCodeEmbeddingFailed, "embedder returned malformed coordinates")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, apperrors.Wrap(err, apperrors.ErrCodeEmbedderUnavailable, "embedder call failed")
		}
	}

	if len(resp.Coordinates) != n {
		return nil, apperrors.Newf(apperrors.ErrCodeEmbeddingFailed,
			"embedder returned %d coordinates for %d rows", len(resp.Coordinates), n)
	}
	points := make([]embedding.Point, n)
	for i, c := range resp.Coordinates {
		if len(c) != 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil, apperrors.Newf(apperrors.ErrCodeEmbeddingFailed, "coordinate %d is not a 2-D point", i)
		}
		points[i] = embedding.Point{X: c[0], Y: c[1]}
	}
	return points, nil
}
