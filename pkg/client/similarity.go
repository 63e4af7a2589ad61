package client

import (
	"context"
	"fmt"
)

// Neighbor is one ranked reference record.
type Neighbor struct {
	Rank     int     `json:"rank"`
	Distance float64 `json:"distance"`
	Outcome  string  `json:"outcome"`
	Record   struct {
		Index    int    `json:"index"`
		Sequence string `json:"sequence"`
		Outcome  string `json:"outcome"`
		Features Record `json:"features"`
	} `json:"record"`
}

// SimilarRequest asks for the reference records closest to Target.  Zero
// Limit and Rejected take the server defaults; negative values mean all and
// none.
type SimilarRequest struct {
	Target   Record   `json:"target"`
	Mode     string   `json:"mode,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Rejected int      `json:"rejected,omitempty"`
	Features []string `json:"features,omitempty"`
}

// SimilarResult is a truncated ranking plus the nearest rejected offers.
type SimilarResult struct {
	Region          Region     `json:"region"`
	Mode            string     `json:"mode"`
	Features        []string   `json:"features"`
	Population      int        `json:"population"`
	Ranked          int        `json:"ranked"`
	Dropped         int        `json:"dropped"`
	Neighbors       []Neighbor `json:"neighbors"`
	NearestRejected []Neighbor `json:"nearest_rejected,omitempty"`
	DurationMs      float64    `json:"duration_ms"`
}

// FeatureComparison is one feature's contribution to a distance.
type FeatureComparison struct {
	Feature             string      `json:"feature"`
	Target              interface{} `json:"target"`
	Candidate           interface{} `json:"candidate"`
	Low                 float64     `json:"p_low"`
	High                float64     `json:"p_high"`
	TargetNormalized    float64     `json:"target_normalized"`
	CandidateNormalized float64     `json:"candidate_normalized"`
	SquaredDifference   float64     `json:"squared_difference"`
}

// Comparison breaks the distance to one candidate down by feature.
type Comparison struct {
	Candidate struct {
		Sequence string `json:"sequence"`
		Outcome  string `json:"outcome"`
		Features Record `json:"features"`
	} `json:"candidate"`
	Distance float64             `json:"distance"`
	Rows     []FeatureComparison `json:"rows"`
}

// Point is one projected record.  Index is -1 for the target.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Index    int     `json:"index"`
	Sequence string  `json:"sequence,omitempty"`
	Outcome  string  `json:"outcome"`
	Target   bool    `json:"target,omitempty"`
}

// Projection is the 2-D layout of a target and its population.
type Projection struct {
	RecordID   string   `json:"record_id"`
	Backend    string   `json:"backend"`
	Columns    []string `json:"columns"`
	Points     []Point  `json:"points"`
	Population int      `json:"population"`
	Sampled    bool     `json:"sampled"`
	DurationMs float64  `json:"duration_ms"`
}

// SimilarityClient calls the similarity and embedding endpoints.
type SimilarityClient struct {
	client *Client
}

// Similar ranks city's reference population by distance to req.Target.
func (s *SimilarityClient) Similar(ctx context.Context, city string, req *SimilarRequest) (*SimilarResult, error) {
	if city == "" || req == nil || len(req.Target) == 0 {
		return nil, fmt.Errorf("%w: city and target are required", ErrInvalidConfig)
	}
	var out SimilarResult
	if err := s.client.post(ctx, cityPath("/api/v1/similarity", city), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare explains the distance from target to the reference record with
// the given sequence id.
func (s *SimilarityClient) Compare(ctx context.Context, city string, target Record, sequence string) (*Comparison, error) {
	if city == "" || len(target) == 0 || sequence == "" {
		return nil, fmt.Errorf("%w: city, target and sequence are required", ErrInvalidConfig)
	}
	body := map[string]interface{}{"target": target, "sequence": sequence}
	var out Comparison
	if err := s.client.post(ctx, cityPath("/api/v1/similarity", city)+"/compare", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embed projects target next to city's reference population.
func (s *SimilarityClient) Embed(ctx context.Context, city string, target Record) (*Projection, error) {
	if city == "" || len(target) == 0 {
		return nil, fmt.Errorf("%w: city and target are required", ErrInvalidConfig)
	}
	var out Projection
	if err := s.client.post(ctx, cityPath("/api/v1/embeddings", city), map[string]interface{}{"target": target}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
