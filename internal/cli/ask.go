package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const maxCellWidth = 48

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

type askRequest struct {
	Question         string   `json:"question"`
	Collections      []string `json:"collections,omitempty"`
	RecommendationID string   `json:"recommendationId,omitempty"`
}

type askResponse struct {
	Interpretation    string          `json:"interpretation"`
	PrimaryCollection string          `json:"primaryCollection"`
	Pipeline          json.RawMessage `json:"pipeline"`
	Results           struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Count   int              `json:"count"`
	} `json:"results"`
	ChartSpec       json.RawMessage `json:"chartSpec,omitempty"`
	NarrativeAnswer string          `json:"narrativeAnswer"`
	CanVisualize    bool            `json:"canVisualize"`
	Diagnostics     []struct {
		Stage    int    `json:"stage"`
		Operator string `json:"operator"`
		Field    string `json:"field"`
		Message  string `json:"message"`
	} `json:"diagnostics,omitempty"`
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a natural-language question about the data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			server, err := cmd.Root().PersistentFlags().GetString("server")
			if err != nil {
				return fmt.Errorf("failed to get server flag: %w", err)
			}
			collections, err := cmd.Flags().GetStringSlice("collections")
			if err != nil {
				return fmt.Errorf("failed to get collections flag: %w", err)
			}
			recommendationID, err := cmd.Flags().GetString("recommendation")
			if err != nil {
				return fmt.Errorf("failed to get recommendation flag: %w", err)
			}
			showChart, err := cmd.Flags().GetBool("chart-spec")
			if err != nil {
				return fmt.Errorf("failed to get chart-spec flag: %w", err)
			}

			log := newLogger(verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			start := time.Now()
			var resp askResponse
			err = newClient(server).postJSON(ctx, "/api/ask", askRequest{
				Question:         args[0],
				Collections:      collections,
				RecommendationID: recommendationID,
			}, &resp)
			if err != nil {
				return err
			}
			log.Debug("query answered",
				"collection", resp.PrimaryCollection,
				"rows", resp.Results.Count,
				"duration", time.Since(start))

			renderAnswer(&resp, verbose, showChart)
			return nil
		},
	}

	cmd.Flags().StringSlice("collections", nil, "restrict the question to the given collections")
	cmd.Flags().String("recommendation", "", "id of a previously recommended visualization to apply")
	cmd.Flags().Bool("chart-spec", false, "print the chart spec JSON when one was produced")

	return cmd
}

func renderAnswer(resp *askResponse, verbose, showChart bool) {
	fmt.Println(resp.NarrativeAnswer)
	fmt.Println()
	fmt.Printf("Interpretation: %s\n", resp.Interpretation)
	fmt.Printf("Collection:     %s\n", resp.PrimaryCollection)

	for _, d := range resp.Diagnostics {
		fmt.Printf("Warning: stage %d %s on %q: %s\n", d.Stage, d.Operator, d.Field, d.Message)
	}

	if resp.Results.Count > 0 {
		fmt.Println()
		renderResultsTable(resp.Results.Columns, resp.Results.Rows)
	}

	if verbose && len(resp.Pipeline) > 0 {
		fmt.Println()
		fmt.Printf("Pipeline: %s\n", string(resp.Pipeline))
	}
	if showChart && resp.CanVisualize {
		fmt.Println()
		fmt.Printf("Chart spec: %s\n", string(resp.ChartSpec))
	}
}

func renderResultsTable(columns []string, rows []map[string]any) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(columns)

	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatCell(row[col])
		}
		table.Append(cells)
	}
	table.Render()
}

func formatCell(v any) string {
	if v == nil {
		return ""
	}
	var s string
	switch n := v.(type) {
	case string:
		s = n
	case float64:
		s = humanFloat(n)
	default:
		s = fmt.Sprintf("%v", n)
	}
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}

// humanFloat drops the fraction for values that round-trip as integers so
// counts don't render as "42.000000".
func humanFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
