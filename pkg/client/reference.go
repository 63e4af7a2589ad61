package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ReferenceStatus describes one cached population.
type ReferenceStatus struct {
	Region   Region    `json:"region"`
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loaded_at"`
}

// UploadResult reports an accepted reference file.
type UploadResult struct {
	Region     Region    `json:"region"`
	Rows       int       `json:"rows"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ReferenceClient manages reference populations.
type ReferenceClient struct {
	client *Client
}

// Status lists the populations the server currently holds.
func (r *ReferenceClient) Status(ctx context.Context) ([]ReferenceStatus, error) {
	var out []ReferenceStatus
	if err := r.client.get(ctx, "/api/v1/reference-data", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Records downloads city's reference population.
func (r *ReferenceClient) Records(ctx context.Context, city string) ([]Record, error) {
	if city == "" {
		return nil, fmt.Errorf("%w: city is required", ErrInvalidConfig)
	}
	var out []Record
	if err := r.client.get(ctx, cityPath("/api/v1/reference-data", city), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops the server's cached population for city and everything
// derived from it.
func (r *ReferenceClient) Invalidate(ctx context.Context, city string) error {
	if city == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidConfig)
	}
	return r.client.delete(ctx, cityPath("/api/v1/reference-data", city))
}

// Upload replaces city's reference file with csv.
func (r *ReferenceClient) Upload(ctx context.Context, city string, csv []byte) (*UploadResult, error) {
	if city == "" || len(csv) == 0 {
		return nil, fmt.Errorf("%w: city and a non-empty file are required", ErrInvalidConfig)
	}
	var out UploadResult
	body := &payload{data: csv, contentType: "text/csv"}
	if err := r.client.do(ctx, http.MethodPut, cityPath("/api/v1/reference-data", city), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
