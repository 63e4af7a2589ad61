package scoring

import (
	"context"
	"math"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Scorer returns one acceptance probability per input vector for a model.
// Implementations talk to the model-serving endpoint.
type Scorer interface {
	Predict(ctx context.Context, modelID string, batch []features.Vector) ([]float64, error)
}

// PopulationSource returns the reference population of a region.
type PopulationSource interface {
	Get(ctx context.Context, region reference.Region) (*reference.Population, error)
}

// checkBatch verifies the scorer answered every hybrid with a probability.
func checkBatch(sent int, probs []float64) error {
	if len(probs) != sent {
		return apperrors.Newf(apperrors.ErrCodeScorerMalformed,
			"scorer returned %d probabilities for %d inputs", len(probs), sent)
	}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return apperrors.Newf(apperrors.ErrCodeScorerMalformed,
				"probability %v at position %d is outside [0,1]", p, i)
		}
	}
	return nil
}
