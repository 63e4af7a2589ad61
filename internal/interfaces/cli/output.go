package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/referencedata"
	"github.com/turtacn/KidneyMatch/pkg/client"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}
	switch strings.ToLower(cliCtx.OutputFormat) {
	case "json":
		return printJSON(cmd, data)
	case "table":
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	case tableProvider:
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(v.TableHeaders(), v.TableRows()))
	default:
		return printJSON(cmd, data)
	}
	return nil
}

func printTable(cmd *cobra.Command, data interface{}) error {
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes err to stderr, with the server's error code when the
// failure came back from the API.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error [%s]: %s\n", apiErr.Code, apiErr.Message)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// PrintSuccess writes a one-line confirmation to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", msg)
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
			} else {
				sb.WriteString(padRight(val, widths[i]))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// readInput returns the contents of path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "an input file is required (--file, or - for stdin)")
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "cannot read input file")
	}
	return data, nil
}

// readRecords parses donor records from path.  JSON input may be a single
// object or an array of objects; anything else is read as CSV with a header
// row.
func readRecords(cmd *cobra.Command, path string) ([]client.Record, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "input is empty")
	}

	switch trimmed[0] {
	case '[':
		var recs []client.Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "input is not a JSON array of records")
		}
		return recs, nil
	case '{':
		var rec client.Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "input is not a JSON record")
		}
		return []client.Record{rec}, nil
	}

	rows, err := referencedata.ParseCSV(bytes.NewReader(trimmed))
	if err != nil {
		return nil, err
	}
	recs := make([]client.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, client.Record(row.ToMap()))
	}
	return recs, nil
}

// readTarget parses exactly one donor record from path.
func readTarget(cmd *cobra.Command, path string) (client.Record, error) {
	recs, err := readRecords(cmd, path)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, apperrors.Newf(apperrors.ErrCodeBadRequest, "expected one target record, got %d", len(recs))
	}
	return recs[0], nil
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.4f", f)
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
