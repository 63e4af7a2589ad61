package embedding

import (
	"context"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Point is one 2-D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Embedder maps every matrix row to a 2-D point, keeping row order.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, m *Matrix, params Params) ([]Point, error)
}

// PCAEmbedder projects rows onto the first two principal components.  It
// ignores the neighbor and perplexity parameters.
type PCAEmbedder struct{}

// NewPCAEmbedder returns the in-process embedder.
func NewPCAEmbedder() *PCAEmbedder { return &PCAEmbedder{} }

func (*PCAEmbedder) Name() string { return "pca" }

// Embed centres the columns and projects onto the leading right singular
// vectors.  With a single column the second coordinate is 0.
func (*PCAEmbedder) Embed(ctx context.Context, m *Matrix, _ Params) ([]Point, error) {
	n, d := m.Dims()
	if n < 2 {
		return nil, apperrors.Newf(apperrors.ErrCodeEmbeddingInsufficient, "need at least 2 points, got %d", n)
	}
	if d == 0 {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingInsufficient, "no numeric columns to embed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x := mat.NewDense(n, d, nil)
	for i, row := range m.Rows {
		x.SetRow(i, row)
	}
	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += x.At(i, j)
		}
		mean := sum / float64(n)
		for i := 0; i < n; i++ {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "singular value decomposition did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, k := v.Dims()

	comps := 2
	if k < comps {
		comps = k
	}
	var proj mat.Dense
	proj.Mul(x, v.Slice(0, d, 0, comps))

	points := make([]Point, n)
	for i := range points {
		points[i].X = proj.At(i, 0)
		if comps > 1 {
			points[i].Y = proj.At(i, 1)
		}
	}
	return points, nil
}
