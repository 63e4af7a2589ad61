// Package referencedata reads the historical reference rows of a region from
// a local directory, an object-storage bucket or a remote HTTP endpoint.
package referencedata

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Loader returns the raw reference rows of a region in file order.
type Loader interface {
	Name() string
	Load(ctx context.Context, region reference.Region) ([]features.Vector, error)
}

// Uploader replaces the stored reference file of a region.
type Uploader interface {
	Upload(ctx context.Context, region reference.Region, data []byte) (rows int, err error)
}

// DefaultFiles maps a region key to its reference file name.
var DefaultFiles = map[string]string{
	reference.Baltimore.Key(): "baltimore_reference.csv",
	reference.Boston.Key():    "boston_reference.csv",
	reference.LA.Key():        "la_reference.csv",
}

// FileNames resolves the configured file map, falling back to DefaultFiles
// for regions it leaves out.  Keys are matched case-insensitively.
func FileNames(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(DefaultFiles))
	for k, v := range DefaultFiles {
		out[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}

// pickFile chooses the file for region among available names: the mapped
// name when present, else the first .csv whose name contains the region
// name.  It returns "" when nothing matches.
func pickFile(region reference.Region, files map[string]string, available []string) string {
	if want, ok := files[region.Key()]; ok {
		for _, name := range available {
			if name == want {
				return name
			}
		}
	}
	city := strings.ToLower(region.Name)
	for _, name := range available {
		lower := strings.ToLower(name)
		if strings.HasSuffix(lower, ".csv") && strings.Contains(lower, city) {
			return name
		}
	}
	return ""
}

func notFound(region reference.Region) error {
	return apperrors.New(apperrors.ErrCodeReferenceNotFound, "reference data file not found for "+region.Name)
}

// ParseCSV reads a header row followed by data rows.  Numeric cells become
// numbers and empty or NA-like cells become null.  Column order is kept.
func ParseCSV(r io.Reader) ([]features.Vector, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceParseFailed, "failed to read CSV header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, apperrors.Newf(apperrors.ErrCodeReferenceParseFailed, "CSV column %d has no name", i+1)
		}
	}

	var rows []features.Vector
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceParseFailed, "failed to read CSV row")
		}
		if len(rec) != len(header) {
			if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
				continue
			}
			return nil, apperrors.Newf(apperrors.ErrCodeReferenceParseFailed,
				"CSV line %d has %d cells, header has %d", line, len(rec), len(header))
		}
		b := features.NewBuilder(len(header))
		for i, cell := range rec {
			b.Set(header[i], features.Coerce(cell))
		}
		rows = append(rows, b.Build())
	}
	return rows, nil
}

func parseBytes(data []byte) ([]features.Vector, error) {
	return ParseCSV(bytes.NewReader(data))
}
