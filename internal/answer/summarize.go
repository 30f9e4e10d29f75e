package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/insightlabs/insight/internal/metrics"
	"github.com/insightlabs/insight/internal/plan"
)

// maxSummaryRows caps how many rows are shown to the summarizer.
const maxSummaryRows = 5

// summarize produces the narrative answer. Summarizer failure is the only
// locally recovered error in the request: it degrades to a templated
// answer instead of aborting.
func (s *Service) summarize(ctx context.Context, query string, draft *plan.DraftPlan, results ResultSet) string {
	userPrompt := buildSummaryPrompt(query, draft.Interpretation, results)

	response, err := s.cfg.LLM.Complete(ctx, s.cfg.Prompts.Summarize, userPrompt)
	if err == nil {
		response = strings.TrimSpace(response)
	}
	if err != nil || response == "" {
		if err == nil {
			err = fmt.Errorf("empty summarizer response")
		}
		metrics.SummarizerFallbackTotal.Inc()
		s.log.Warn("answer: summarizer degraded, using templated answer",
			"error", &SummarizerDegradedError{Err: err})
		return fmt.Sprintf("Found %d result(s) for your query: %s", results.Count, draft.Interpretation)
	}
	return response
}

func buildSummaryPrompt(query, interpretation string, results ResultSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", query)
	fmt.Fprintf(&sb, "Interpretation: %s\n", interpretation)
	fmt.Fprintf(&sb, "Total results: %d\n\n", results.Count)

	if results.Count == 0 {
		sb.WriteString("The query returned no results.\n")
		return sb.String()
	}

	sb.WriteString("Sample rows:\n")
	sb.WriteString("Columns: " + strings.Join(results.Columns, " | ") + "\n")
	shown := len(results.Rows)
	if shown > maxSummaryRows {
		shown = maxSummaryRows
	}
	for i := 0; i < shown; i++ {
		values := make([]string, len(results.Columns))
		for j, col := range results.Columns {
			values[j] = formatSampleValue(results.Rows[i][col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	if results.Count > shown {
		fmt.Fprintf(&sb, "... and %d more rows\n", results.Count-shown)
	}
	return sb.String()
}

// formatSampleValue keeps model-facing values short and round. Long
// decimals read like encoded data to a model, so they are trimmed.
func formatSampleValue(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		return s
	}
}
