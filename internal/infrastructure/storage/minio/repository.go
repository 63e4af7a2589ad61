package minio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrUploadFailed   = errors.New(errors.ErrCodeExternalService, "upload failed")
	ErrDownloadFailed = errors.New(errors.ErrCodeExternalService, "download failed")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

// ObjectStorageRepository reads and writes objects in the reference bucket.
// Keys are relative to the configured prefix.
type ObjectStorageRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]*ObjectMetadata, error)
}

type UploadResult struct {
	Bucket     string    `json:"bucket"`
	ObjectKey  string    `json:"object_key"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type ObjectMetadata struct {
	// Key is relative to the configured prefix.
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

type minioRepository struct {
	client *MinIOClient
	logger logging.Logger
}

func NewMinIORepository(client *MinIOClient, log logging.Logger) ObjectStorageRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &minioRepository{client: client, logger: log}
}

func (r *minioRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidRequest.WithDetail("empty object key")
	}
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	objectKey := r.client.ObjectKey(key)
	obj, err := r.client.client.GetObject(ctx, r.client.Bucket(), objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, r.mapError(err, objectKey, ErrDownloadFailed)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, r.mapError(err, objectKey, ErrDownloadFailed)
	}
	r.logger.Debug("Downloaded object", logging.String("key", objectKey), logging.Int("bytes", len(data)))
	return data, nil
}

func (r *minioRepository) Put(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error) {
	if key == "" {
		return nil, ErrInvalidRequest.WithDetail("empty object key")
	}
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	if contentType == "" {
		contentType = "text/csv"
	}
	objectKey := r.client.ObjectKey(key)
	info, err := r.client.client.PutObject(ctx, r.client.Bucket(), objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		r.logger.Error("Failed to upload object", logging.String("key", objectKey), logging.Err(err))
		return nil, ErrUploadFailed.WithCause(err)
	}
	return &UploadResult{
		Bucket:     r.client.Bucket(),
		ObjectKey:  objectKey,
		ETag:       info.ETag,
		Size:       info.Size,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (r *minioRepository) Exists(ctx context.Context, key string) (bool, error) {
	if r.client.isClosed() {
		return false, ErrMinIOClientClosed
	}
	_, err := r.client.client.StatObject(ctx, r.client.Bucket(), r.client.ObjectKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeExternalService, "failed to stat object")
}

func (r *minioRepository) List(ctx context.Context, prefix string) ([]*ObjectMetadata, error) {
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	base := r.client.ObjectKey("")
	var out []*ObjectMetadata
	for obj := range r.client.client.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{
		Prefix:    r.client.ObjectKey(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeExternalService, "failed to list objects")
		}
		out = append(out, &ObjectMetadata{
			Key:          strings.TrimPrefix(obj.Key, base),
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

func (r *minioRepository) mapError(err error, objectKey string, fallback *errors.AppError) error {
	if isNoSuchKey(err) {
		return ErrObjectNotFound.WithDetail(objectKey)
	}
	r.logger.Warn("Object storage request failed", logging.String("key", objectKey), logging.Err(err))
	return fallback.WithCause(err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
