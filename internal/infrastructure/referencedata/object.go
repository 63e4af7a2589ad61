package referencedata

import (
	"context"
	"sort"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/storage/minio"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ObjectLoader reads reference CSVs from an object-storage bucket using the
// same file lookup as FileLoader.
type ObjectLoader struct {
	repo   minio.ObjectStorageRepository
	files  map[string]string
	logger logging.Logger
}

var (
	_ Loader   = (*ObjectLoader)(nil)
	_ Uploader = (*ObjectLoader)(nil)
)

func NewObjectLoader(repo minio.ObjectStorageRepository, files map[string]string, log logging.Logger) *ObjectLoader {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ObjectLoader{repo: repo, files: FileNames(files), logger: log}
}

func (l *ObjectLoader) Name() string { return "minio" }

func (l *ObjectLoader) Load(ctx context.Context, region reference.Region) ([]features.Vector, error) {
	key, err := l.resolve(ctx, region)
	if err != nil {
		return nil, err
	}
	data, err := l.repo.Get(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, notFound(region)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to download "+key)
	}
	l.logger.Debug("downloaded reference object",
		logging.City(region.Name), logging.String("key", key), logging.Int("bytes", len(data)))
	return parseBytes(data)
}

// resolve checks the mapped key first and lists the bucket only when it is
// absent.
func (l *ObjectLoader) resolve(ctx context.Context, region reference.Region) (string, error) {
	if want, ok := l.files[region.Key()]; ok {
		exists, err := l.repo.Exists(ctx, want)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to stat "+want)
		}
		if exists {
			return want, nil
		}
	}
	objs, err := l.repo.List(ctx, "")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to list reference bucket")
	}
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Key)
	}
	sort.Strings(names)
	if name := pickFile(region, l.files, names); name != "" {
		return name, nil
	}
	return "", notFound(region)
}

// Upload validates data as a reference CSV and stores it under the region's
// mapped file name.
func (l *ObjectLoader) Upload(ctx context.Context, region reference.Region, data []byte) (int, error) {
	rows, err := parseBytes(data)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, apperrors.New(apperrors.ErrCodeReferenceEmpty, "uploaded reference file has no rows")
	}
	key := l.files[region.Key()]
	if key == "" {
		key = region.Key() + "_reference.csv"
	}
	res, err := l.repo.Put(ctx, key, data, "text/csv")
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to store "+key)
	}
	l.logger.Info("reference file uploaded",
		logging.City(region.Name), logging.String("object", res.ObjectKey),
		logging.Int("rows", len(rows)), logging.Int64("bytes", res.Size))
	return len(rows), nil
}
