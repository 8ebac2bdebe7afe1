package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/linkeye/internal/api/client"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	var (
		since time.Duration
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [link_id]",
		Short: "Show persisted loss samples of a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			rows, err := c.History(cmd.Context(), id, time.Now().Add(-since), limit)
			if err != nil {
				return fmt.Errorf("failed to get loss history: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tLOSS (dB)")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%.2f\n", r.RecordedAt.Format(time.RFC3339), r.Loss)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to look")
	cmd.Flags().IntVar(&limit, "limit", 0, "Limit the number of samples")

	return cmd
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show polling loop metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			metrics, err := c.Metrics(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get metrics: %v", err)
			}
			return printKeyValues(cmd, metrics)
		},
	}
}

func NewReportCommand() *cobra.Command {
	var (
		period string
		output string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download the HTML alert and loss report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			html, err := c.Report(cmd.Context(), period)
			if err != nil {
				return fmt.Errorf("failed to get report: %v", err)
			}
			if err := os.WriteFile(output, html, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %v", output, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "daily", "Report period (daily/weekly)")
	cmd.Flags().StringVarP(&output, "output", "o", "linkeye-report.html", "Output file")

	return cmd
}

func printKeyValues(cmd *cobra.Command, values map[string]interface{}) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	for _, k := range keys {
		v := values[k]
		if nested, ok := v.(map[string]interface{}); ok {
			data, _ := json.Marshal(nested)
			v = string(data)
		}
		fmt.Fprintf(w, "%s\t%v\n", k, v)
	}
	return w.Flush()
}
