package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/KidneyMatch/pkg/client"
)

type statusList []client.ReferenceStatus

func (s statusList) TableHeaders() []string {
	return []string{"CITY", "CODE", "RECORDS", "LOADED AT"}
}

func (s statusList) TableRows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, st := range s {
		rows = append(rows, []string{st.Region.Name, st.Region.Code, strconv.Itoa(st.Records), st.LoadedAt.Format(time.RFC3339)})
	}
	return rows
}

// recordList renders raw reference rows; columns are the union of keys,
// sorted.
type recordList []client.Record

func (r recordList) TableHeaders() []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, rec := range r {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func (r recordList) TableRows() [][]string {
	cols := r.TableHeaders()
	rows := make([][]string, 0, len(r))
	for _, rec := range r {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = formatCell(rec[c])
		}
		rows = append(rows, row)
	}
	return rows
}

// NewReferenceCmd groups the reference population commands.
func NewReferenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reference",
		Aliases: []string{"ref"},
		Short:   "Inspect and manage per-city reference populations",
	}
	cmd.AddCommand(
		newReferenceStatusCmd(),
		newReferenceGetCmd(),
		newReferenceInvalidateCmd(),
		newReferenceUploadCmd(),
	)
	return cmd
}

func newReferenceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the populations the server has cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			st, err := cliCtx.Client.Reference().Status(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, statusList(st))
		},
	}
}

func newReferenceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get CITY",
		Short: "Download a city's reference population",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			recs, err := cliCtx.Client.Reference().Records(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, recordList(recs))
		},
	}
}

func newReferenceInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate CITY",
		Short: "Drop the cached population and everything derived from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			if err := cliCtx.Client.Reference().Invalidate(ctx, args[0]); err != nil {
				return err
			}
			PrintSuccess(cmd, "reference data for "+args[0]+" invalidated")
			return nil
		},
	}
}

func newReferenceUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "upload CITY FILE",
		Short:   "Replace a city's reference file",
		Example: `  kmatch reference upload boston Boston_important_features.csv`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			res, err := cliCtx.Client.Reference().Upload(ctx, args[0], data)
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("uploaded %d rows for %s", res.Rows, res.Region.Name))
			return nil
		},
	}
}
