package referencedata

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// FileLoader reads reference CSVs from a local directory.
type FileLoader struct {
	dir    string
	files  map[string]string
	logger logging.Logger
}

func NewFileLoader(dir string, files map[string]string, log logging.Logger) *FileLoader {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &FileLoader{dir: dir, files: FileNames(files), logger: log}
}

func (l *FileLoader) Name() string { return "file" }

func (l *FileLoader) Load(ctx context.Context, region reference.Region) ([]features.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to list reference directory "+l.dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	name := pickFile(region, l.files, names)
	if name == "" {
		return nil, notFound(region)
	}
	path := filepath.Join(l.dir, name)
	l.logger.Debug("reading reference file", logging.City(region.Name), logging.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to open "+path)
	}
	defer f.Close()
	return ParseCSV(f)
}
