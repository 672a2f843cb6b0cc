package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
)

// NewStatsCmd creates the stats command
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show source performance and the active strategy",
		Long:  `Display per-source accuracy, trust weight, and trend, plus the fusion strategy currently in effect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			resp, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(resp)
			}

			headers := []string{"SOURCE", "ACCURACY", "RECENT", "TREND", "TRUST", "PREDICTIONS", "CONFIDENCE"}
			var rows [][]string
			for _, source := range prediction.AllSources() {
				s, ok := resp.Stats.Sources[source]
				if !ok {
					continue
				}
				rows = append(rows, []string{
					string(source),
					fmt.Sprintf("%.2f", s.Accuracy),
					fmt.Sprintf("%.2f", s.RecentAccuracy),
					string(s.Trend),
					fmt.Sprintf("%.2f", s.TrustWeight),
					fmt.Sprintf("%d/%d", s.CorrectPredictions, s.TotalPredictions),
					fmt.Sprintf("%.2f", s.Confidence),
				})
			}
			printTable(headers, rows)

			fmt.Println()
			info(fmt.Sprintf("Strategy: %s", resp.Strategy))
			info(fmt.Sprintf("Correction rate: %.0f%%", resp.CorrectionRate*100))
			if resp.QueueLength > 0 {
				info(fmt.Sprintf("Learning queue: %d pending", resp.QueueLength))
			}
			return nil
		},
	}
}

// NewPatternsCmd creates the patterns command
func NewPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Show recurring corrections and rule suggestions",
		Long:  `Display correction patterns the daemon has mined from user feedback, with suggested rules where a pattern is strong enough.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			resp, err := client.Patterns(cmd.Context())
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(resp)
			}

			if len(resp.Patterns) == 0 {
				info("No recurring correction patterns yet")
			} else {
				headers := []string{"PATTERN", "COUNT", "DOMAINS", "SIGNALS", "SUGGESTION"}
				var rows [][]string
				for _, p := range resp.Patterns {
					suggestion := "-"
					if p.Suggestion != nil {
						suggestion = fmt.Sprintf("%s %s -> %s (%.2f)",
							p.Suggestion.Type, p.Suggestion.Value, p.Suggestion.Category, p.Suggestion.Confidence)
					}
					rows = append(rows, []string{
						p.Key,
						strconv.Itoa(p.Count),
						strings.Join(p.Domains, ", "),
						strings.Join(p.Signals, ", "),
						suggestion,
					})
				}
				printTable(headers, rows)
			}

			for _, insight := range resp.Insights {
				warning(insight.Message)
			}
			return nil
		},
	}
}
