package referencedata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// HTTPLoader fetches rows from a remote reference service:
//
//	GET {base}/reference-data/{city}  ->  [ {column: value, ...}, ... ]
type HTTPLoader struct {
	base   string
	http   *http.Client
	logger logging.Logger
}

func NewHTTPLoader(baseURL string, timeout time.Duration, log logging.Logger) (*HTTPLoader, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "invalid reference base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &HTTPLoader{base: u.String(), http: &http.Client{Timeout: timeout}, logger: log}, nil
}

func (l *HTTPLoader) Name() string { return "http" }

func (l *HTTPLoader) Load(ctx context.Context, region reference.Region) ([]features.Vector, error) {
	endpoint := l.base + "/reference-data/" + url.PathEscape(region.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to build request")
	}
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := l.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "reference service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceLoadFailed, "failed to read reference response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound(region)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Newf(apperrors.ErrCodeReferenceLoadFailed,
			"reference service returned HTTP %d for %s", resp.StatusCode, region.Name)
	}

	var rows []features.Vector
	if err := json.Unmarshal(nonFiniteToNull(body), &rows); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeReferenceParseFailed,
			fmt.Sprintf("reference data for %s is not a JSON array of records", region.Name))
	}
	l.logger.Debug("fetched reference rows", logging.City(region.Name), logging.Int("rows", len(rows)))
	return rows, nil
}

// nonFiniteToNull rewrites bare NaN, Infinity and -Infinity tokens, which
// some serializers emit for missing cells, to null.  String contents are left
// alone.
func nonFiniteToNull(b []byte) []byte {
	if !bytes.Contains(b, []byte("NaN")) && !bytes.Contains(b, []byte("Infinity")) {
		return b
	}
	out := make([]byte, 0, len(b))
	inString, escaped := false, false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		matched := false
		for _, tok := range []string{"-Infinity", "Infinity", "NaN"} {
			if bytes.HasPrefix(b[i:], []byte(tok)) {
				out = append(out, "null"...)
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}
