package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// CodeNothingSucceeded is the error code of a run in which no model produced
// a score.
const CodeNothingSucceeded = "SCR_004"

// Record is one donor/candidate row, keyed by feature name.
type Record map[string]interface{}

// Region identifies a reference city.
type Region struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Model describes a registered scoring model.
type Model struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Accuracy    float64  `json:"accuracy,omitempty"`
	Role        string   `json:"role"`
	Region      Region   `json:"region"`
	Features    []string `json:"features"`
}

// PredictionRequest scores Records under ModelIDs, or every model when
// ModelIDs is empty.  A zero SampleSize uses the server default.
type PredictionRequest struct {
	Records    []Record `json:"records"`
	ModelIDs   []string `json:"model_ids,omitempty"`
	SampleSize int      `json:"sample_size,omitempty"`
}

// RecordPrediction is one record's probability under one model.
type RecordPrediction struct {
	RecordIndex   int     `json:"record_index"`
	RecordID      string  `json:"record_id"`
	Probability   float64 `json:"probability"`
	Hybrids       int     `json:"hybrids"`
	Batches       int     `json:"batches"`
	FailedBatches int     `json:"failed_batches"`
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

// PredictionResult is the outcome of a prediction run.
type PredictionResult struct {
	Predictions         []ModelPrediction   `json:"predictions"`
	MissingFeatures     map[string][]string `json:"missing_features"`
	ConfigurationErrors map[string]string   `json:"configuration_errors,omitempty"`
	ReferenceErrors     map[string]string   `json:"reference_errors,omitempty"`
	NothingSucceeded    bool                `json:"nothing_succeeded"`
	Records             int                 `json:"records"`
	SampleSize          int                 `json:"sample_size"`
	DurationMs          float64             `json:"duration_ms"`
}

// PredictionsClient calls the model and prediction endpoints.
type PredictionsClient struct {
	client *Client
}

// Models lists registered models.  role filters by baseline, facility or
// other; empty lists every model.
func (p *PredictionsClient) Models(ctx context.Context, role string) ([]Model, error) {
	path := "/api/v1/models"
	if role != "" {
		path += "?role=" + url.QueryEscape(role)
	}
	var out []Model
	if err := p.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Model fetches one model by id.
func (p *PredictionsClient) Model(ctx context.Context, id string) (*Model, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: model id is required", ErrInvalidConfig)
	}
	var out Model
	if err := p.client.get(ctx, "/api/v1/models/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predict runs req.  When no model could be scored the server answers with
// an error; Predict then returns both the partial result, which says why
// each model was skipped, and the *APIError.
func (p *PredictionsClient) Predict(ctx context.Context, req *PredictionRequest) (*PredictionResult, error) {
	if req == nil || len(req.Records) == 0 {
		return nil, fmt.Errorf("%w: at least one record is required", ErrInvalidConfig)
	}
	var out PredictionResult
	err := p.client.post(ctx, "/api/v1/predictions", req, &out)
	if err == nil {
		return &out, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeNothingSucceeded && len(apiErr.Details) > 0 {
		var partial PredictionResult
		if jerr := json.Unmarshal(apiErr.Details, &partial); jerr == nil {
			return &partial, apiErr
		}
	}
	return nil, err
}
