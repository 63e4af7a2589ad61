package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KidneyMatch/pkg/client"
)

type similarView struct {
	*client.SimilarResult
}

func (s similarView) TableHeaders() []string {
	return []string{"RANK", "SEQUENCE", "OUTCOME", "DISTANCE"}
}

func (s similarView) TableRows() [][]string {
	return neighborRows(s.Neighbors)
}

func neighborRows(ns []client.Neighbor) [][]string {
	rows := make([][]string, 0, len(ns))
	for _, n := range ns {
		rows = append(rows, []string{strconv.Itoa(n.Rank), n.Record.Sequence, n.Outcome, formatFloat(n.Distance)})
	}
	return rows
}

func (s similarView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, %s distance over %d feature(s); %d of %d reference records ranked",
		s.Region.Name, s.Mode, len(s.Features), s.Ranked, s.Population)
	if s.Dropped > 0 {
		fmt.Fprintf(&sb, ", %d dropped for missing values", s.Dropped)
	}
	sb.WriteString("\n\n")
	sb.WriteString(FormatTable(s.TableHeaders(), s.TableRows()))
	if len(s.NearestRejected) > 0 {
		sb.WriteString("\nnearest rejected offers:\n")
		sb.WriteString(FormatTable(s.TableHeaders(), neighborRows(s.NearestRejected)))
	}
	return sb.String()
}

// NewSimilarCmd ranks a city's reference population by distance to a donor.
func NewSimilarCmd() *cobra.Command {
	var (
		file     string
		req      client.SimilarRequest
		features []string
	)
	cmd := &cobra.Command{
		Use:   "similar CITY",
		Short: "Find the historical offers most similar to a donor",
		Example: `  kmatch similar boston -f donor.json
  kmatch similar LA -f donor.csv --mode raw --limit 20 --rejected 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			target, err := readTarget(cmd, file)
			if err != nil {
				return err
			}
			req.Target = target
			req.Features = features
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			res, err := cliCtx.Client.Similarity().Similar(ctx, args[0], &req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, similarView{res})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "JSON or CSV file holding the donor record (- for stdin)")
	f.StringVar(&req.Mode, "mode", "", "distance mode: standardized or raw (default: server setting)")
	f.IntVar(&req.Limit, "limit", 0, "neighbors to return, -1 for all (default: server setting)")
	f.IntVar(&req.Rejected, "rejected", 0, "nearest rejected offers to list, -1 for none (default: server setting)")
	f.StringSliceVar(&features, "features", nil, "compare on these features instead of the city defaults")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type comparisonView struct {
	*client.Comparison
}

func (c comparisonView) TableHeaders() []string {
	return []string{"FEATURE", "TARGET", "CANDIDATE", "P2.5", "P97.5", "SQ DIFF"}
}

func (c comparisonView) TableRows() [][]string {
	rows := make([][]string, 0, len(c.Rows))
	for _, r := range c.Rows {
		rows = append(rows, []string{
			r.Feature, formatCell(r.Target), formatCell(r.Candidate),
			formatCell(r.Low), formatCell(r.High), formatFloat(r.SquaredDifference),
		})
	}
	return rows
}

func (c comparisonView) String() string {
	return fmt.Sprintf("candidate %s (%s), distance %s\n\n%s",
		c.Candidate.Sequence, c.Candidate.Outcome, formatFloat(c.Distance),
		FormatTable(c.TableHeaders(), c.TableRows()))
}

// NewCompareCmd explains the distance between a donor and one reference record.
func NewCompareCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "compare CITY SEQUENCE",
		Short:   "Break down the distance from a donor to one historical offer",
		Example: `  kmatch compare boston 104223 -f donor.json`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			target, err := readTarget(cmd, file)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			res, err := cliCtx.Client.Similarity().Compare(ctx, args[0], target, args[1])
			if err != nil {
				return err
			}
			return PrintResult(cmd, comparisonView{res})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or CSV file holding the donor record (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type projectionView struct {
	*client.Projection
}

func (p projectionView) TableHeaders() []string {
	return []string{"SEQUENCE", "OUTCOME", "X", "Y"}
}

func (p projectionView) TableRows() [][]string {
	rows := make([][]string, 0, len(p.Points))
	for _, pt := range p.Points {
		seq := pt.Sequence
		if pt.Target {
			seq = "* " + p.RecordID
		}
		rows = append(rows, []string{seq, pt.Outcome, formatFloat(pt.X), formatFloat(pt.Y)})
	}
	return rows
}

func (p projectionView) String() string {
	sampled := ""
	if p.Sampled {
		sampled = " (sampled)"
	}
	return fmt.Sprintf("%s projection of record %s against %d reference records%s\n\n%s",
		p.Backend, p.RecordID, p.Population, sampled, FormatTable(p.TableHeaders(), p.TableRows()))
}

// NewEmbedCmd projects a donor next to a city's reference population.
func NewEmbedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "embed CITY",
		Aliases: []string{"tsne"},
		Short:   "Project a donor and the reference population into two dimensions",
		Example: `  kmatch embed boston -f donor.json -o json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			target, err := readTarget(cmd, file)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.commandContext(cmd)
			defer cancel()

			res, err := cliCtx.Client.Similarity().Embed(ctx, args[0], target)
			if err != nil {
				return err
			}
			return PrintResult(cmd, projectionView{res})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or CSV file holding the donor record (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
