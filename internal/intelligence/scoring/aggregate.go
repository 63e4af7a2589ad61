package scoring

import (
	"github.com/montanaflynn/stats"
)

// RecordPrediction is the probability of one input record under one model.
type RecordPrediction struct {
	RecordIndex int     `json:"record_index"`
	RecordID    string  `json:"record_id"`
	Probability float64 `json:"probability"`
	// Hybrids is the number of hybrid probabilities the mean was taken over.
	Hybrids       int `json:"hybrids"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
}

// ModelPrediction holds every record's probability under one model.
type ModelPrediction struct {
	ModelID         string             `json:"model_id"`
	ModelName       string             `json:"model_name"`
	Role            string             `json:"role"`
	Region          string             `json:"region,omitempty"`
	Records         []RecordPrediction `json:"records"`
	MeanProbability float64            `json:"mean_probability"`
}

// Probabilities returns the per-record probabilities in record order.
func (m *ModelPrediction) Probabilities() []float64 {
	out := make([]float64, len(m.Records))
	for i, r := range m.Records {
		out[i] = r.Probability
	}
	return out
}

// Succeeded reports whether any scorer batch for this model succeeded.
func (m *ModelPrediction) Succeeded() bool {
	for _, r := range m.Records {
		if r.Hybrids > 0 {
			return true
		}
	}
	return false
}

// meanOrZero is the arithmetic mean of xs, or 0 when xs is empty.
func meanOrZero(xs []float64) float64 {
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}

// finalize sets the model mean from the record probabilities.
func (m *ModelPrediction) finalize() {
	m.MeanProbability = meanOrZero(m.Probabilities())
}
