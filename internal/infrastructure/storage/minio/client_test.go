package minio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

type MockMinIOAPI struct {
	mock.Mock
}

func (m *MockMinIOAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockMinIOAPI) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func (m *MockMinIOAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMinIOAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockMinIOAPI) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &MinIOConfig{Prefix: "reference"}
	applyDefaults(cfg)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "kmatch-reference", cfg.Bucket)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "reference/", cfg.Prefix)
}

func TestObjectKey(t *testing.T) {
	c := NewMinIOClientWithAPI(&MockMinIOAPI{}, &MinIOConfig{Prefix: "ref/"}, nil)
	assert.Equal(t, "ref/boston_reference.csv", c.ObjectKey("boston_reference.csv"))
	assert.Equal(t, "ref/la.csv", c.ObjectKey("/la.csv"))

	c = NewMinIOClientWithAPI(&MockMinIOAPI{}, nil, nil)
	assert.Equal(t, "la.csv", c.ObjectKey("la.csv"))
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	api := &MockMinIOAPI{}
	api.On("BucketExists", ctx, "ref").Return(true, nil).Once()
	c := NewMinIOClientWithAPI(api, &MinIOConfig{Bucket: "ref"}, nil)
	status, err := c.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	api.On("BucketExists", ctx, "ref").Return(false, nil).Once()
	status, err = c.HealthCheck(ctx)
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.False(t, status.Healthy)

	api.On("BucketExists", ctx, "ref").Return(false, errors.New("dial tcp: refused")).Once()
	_, err = c.HealthCheck(ctx)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeServiceUnavailable))

	require.NoError(t, c.Close())
	_, err = c.HealthCheck(ctx)
	assert.ErrorIs(t, err, ErrMinIOClientClosed)
	api.AssertExpectations(t)
}
