package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/pkg/client"
)

// modelList renders registered models.
type modelList []client.Model

func (m modelList) TableHeaders() []string {
	return []string{"ID", "ROLE", "REGION", "FEATURES", "NAME"}
}

func (m modelList) TableRows() [][]string {
	rows := make([][]string, 0, len(m))
	for _, model := range m {
		region := model.Region.Code
		if region == "" {
			region = "-"
		}
		rows = append(rows, []string{model.ID, model.Role, region, strconv.Itoa(len(model.Features)), model.Name})
	}
	return rows
}

// NewModelsCmd lists the models registered on the server.
func NewModelsCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered acceptance models",
		Example: `  kmatch models
  kmatch models --role facility -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			models, err := cliCtx.Client.Predictions().Models(ctx, role)
			if err != nil {
				return err
			}
			return PrintResult(cmd, modelList(models))
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role (baseline, facility, other)")
	return cmd
}

// predictionView renders a prediction run as one row per model and record.
type predictionView struct {
	*client.PredictionResult
}

func (p predictionView) TableHeaders() []string {
	return []string{"MODEL", "ROLE", "RECORD", "PROBABILITY", "HYBRIDS", "FAILED BATCHES"}
}

func (p predictionView) TableRows() [][]string {
	var rows [][]string
	for _, mp := range p.Predictions {
		for _, rp := range mp.Records {
			id := rp.RecordID
			if id == "" {
				id = "#" + strconv.Itoa(rp.RecordIndex)
			}
			rows = append(rows, []string{
				mp.ModelID, mp.Role, id, formatFloat(rp.Probability),
				strconv.Itoa(rp.Hybrids), strconv.Itoa(rp.FailedBatches),
			})
		}
	}
	return rows
}

// String renders the table followed by the models that were skipped.
func (p predictionView) String() string {
	var sb strings.Builder
	sb.WriteString(FormatTable(p.TableHeaders(), p.TableRows()))
	if len(p.MissingFeatures) > 0 {
		sb.WriteString("\nmodels skipped for missing features:\n")
		ids := make([]string, 0, len(p.MissingFeatures))
		for id := range p.MissingFeatures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&sb, "  %s: %s\n", id, strings.Join(p.MissingFeatures[id], ", "))
		}
	}
	writeReasons(&sb, "models with configuration errors", p.ConfigurationErrors)
	writeReasons(&sb, "models without reference data", p.ReferenceErrors)
	fmt.Fprintf(&sb, "\n%d record(s), sample size %d, %.0f ms\n", p.Records, p.SampleSize, p.DurationMs)
	return sb.String()
}

// NewPredictCmd scores donor records under the registered models.
func NewPredictCmd() *cobra.Command {
	var (
		file       string
		models     []string
		sampleSize int
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict offer acceptance probabilities for donor records",
		Long: "Reads donor records from a JSON or CSV file and scores them under every\n" +
			"registered model, or under the models named with --models.  Models whose\n" +
			"features are missing from the input are listed instead of scored.",
		Example: `  kmatch predict -f donors.csv
  kmatch predict -f donor.json --models bos-base,bos-fac --sample-size 200
  cat donors.json | kmatch predict -f -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			records, err := readRecords(cmd, file)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			cliCtx.Logger.Debug("submitting prediction run",
				logging.Int("records", len(records)), logging.Strings("models", models))
			res, err := cliCtx.Client.Predictions().Predict(ctx, &client.PredictionRequest{
				Records:    records,
				ModelIDs:   models,
				SampleSize: sampleSize,
			})
			var apiErr *client.APIError
			if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == client.CodeNothingSucceeded && res != nil) {
				return err
			}
			if perr := PrintResult(cmd, predictionView{res}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or CSV file with donor records (- for stdin)")
	cmd.Flags().StringSliceVar(&models, "models", nil, "model ids to run (default: all)")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "hybrid records per donor record (default: server setting)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeReasons(sb *strings.Builder, title string, reasons map[string]string) {
	if len(reasons) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	ids := make([]string, 0, len(reasons))
	for id := range reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(sb, "  %s: %s\n", id, reasons[id])
	}
}
