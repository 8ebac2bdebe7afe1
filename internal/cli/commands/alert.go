package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/linkeye/internal/api/client"
	"github.com/spf13/cobra"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert history commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand())

	return cmd
}

func newAlertListCommand() *cobra.Command {
	var (
		serial   string
		detector string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List fired alerts, newest first",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			alerts, err := c.ListAlerts(cmd.Context(), serial, detector, from, limit)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tLINK\tSERIAL\tDETECTOR\tLEVEL\tLOSS\tDELTA\tSUPPRESSED")

			for _, alert := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%+.2f\t%t\n",
					alert.FiredAt.Format(time.RFC3339),
					alert.LinkName,
					alert.OriginSerial,
					alert.Detector,
					alert.Level,
					alert.CurrentLoss,
					alert.Delta,
					alert.Suppressed,
				)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&serial, "serial", "", "Filter by origin serial")
	cmd.Flags().StringVar(&detector, "detector", "", "Filter by detector (rapid_jump/drift/threshold)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only alerts fired within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of alerts")

	return cmd
}
