package main

import (
	"context"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/database/redis"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/serving"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/storage/minio"
)

// Adapters for HealthHandler

type redisHealthAdapter struct {
	client *redis.Client
}

func (a *redisHealthAdapter) Name() string {
	return "redis"
}

func (a *redisHealthAdapter) Check(ctx context.Context) error {
	return a.client.Ping(ctx)
}

type scorerHealthAdapter struct {
	client *serving.ScorerClient
}

func (a *scorerHealthAdapter) Name() string {
	return "scorer"
}

func (a *scorerHealthAdapter) Check(ctx context.Context) error {
	return a.client.Ping(ctx)
}

type objectStoreHealthAdapter struct {
	client *minio.MinIOClient
}

func (a *objectStoreHealthAdapter) Name() string {
	return "object_storage"
}

func (a *objectStoreHealthAdapter) Check(ctx context.Context) error {
	_, err := a.client.HealthCheck(ctx)
	return err
}
