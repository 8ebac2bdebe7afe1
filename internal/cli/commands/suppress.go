package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/linkeye/internal/api/client"
	"github.com/spf13/cobra"
)

func NewInhibitCommand() *cobra.Command {
	var (
		reason string
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "inhibit [serial]",
		Short: "Silence every alert of a link until cleared",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			if remove {
				if err := c.ClearInhibition(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("failed to clear inhibition: %v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inhibition of %s cleared\n", args[0])
				return nil
			}

			if err := c.Inhibit(cmd.Context(), args[0], reason); err != nil {
				return fmt.Errorf("failed to inhibit: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s inhibited\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the link is silenced")
	cmd.Flags().BoolVar(&remove, "clear", false, "Remove the inhibition instead")
	cmd.AddCommand(newInhibitListCommand())

	return cmd
}

func newInhibitListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List inhibited links",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			rows, err := c.ListInhibitions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list inhibitions: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SERIAL\tREASON\tBY\tSINCE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.OriginSerial, r.Reason, r.CreatedBy, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func NewAckCommand() *cobra.Command {
	var (
		loss   float64
		hours  float64
		remove bool
	)

	cmd := &cobra.Command{
		Use:     "ack [serial]",
		Short:   "Accept the current loss level of a link so drift stops alerting",
		Aliases: []string{"acknowledge"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			if remove {
				if err := c.ClearAcknowledgment(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("failed to clear acknowledgment: %v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Acknowledgment of %s cleared\n", args[0])
				return nil
			}

			if !cmd.Flags().Changed("loss") {
				return fmt.Errorf("--loss is required")
			}
			if err := c.Acknowledge(cmd.Context(), args[0], loss, hours); err != nil {
				return fmt.Errorf("failed to acknowledge: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loss %.2f dB accepted for %s\n", loss, args[0])
			return nil
		},
	}

	cmd.Flags().Float64Var(&loss, "loss", 0, "Accepted loss level in dB")
	cmd.Flags().Float64Var(&hours, "hours", 0, "How long the level is accepted (default: server setting)")
	cmd.Flags().BoolVar(&remove, "clear", false, "Remove the acknowledgment instead")

	return cmd
}
