package commands

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/linkeye/internal/api/client"
	"github.com/spf13/cobra"
)

func NewLinkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "link",
		Short:   "Monitored link commands",
		Aliases: []string{"links", "l"},
	}

	cmd.AddCommand(newLinkListCommand())
	cmd.AddCommand(newLinkImportCommand())
	cmd.AddCommand(newLinkExportCommand())
	cmd.AddCommand(newLinkToggleCommand("enable", "Resume monitoring of a link", true))
	cmd.AddCommand(newLinkToggleCommand("disable", "Stop monitoring a link", false))
	cmd.AddCommand(newLinkDeleteCommand())

	return cmd
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid link ID %q", arg)
	}
	return uint(id), nil
}

func newLinkListCommand() *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List links with their current loss",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			var enabled *bool
			if enabledOnly {
				enabled = &enabledOnly
			}
			links, err := c.ListLinks(cmd.Context(), enabled)
			if err != nil {
				return fmt.Errorf("failed to list links: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tORIGIN\tDEST\tLOSS\tREFERENCE\tENABLED\tINHIBITED")

			for _, l := range links {
				loss := "-"
				switch {
				case l.CurrentLoss != nil:
					loss = fmt.Sprintf("%.2f", *l.CurrentLoss)
				case l.Error != "":
					loss = "n/a"
				}
				dest := l.DestSerial
				if l.IsSingle {
					dest = "(single)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.2f\t%t\t%t\n",
					l.ID, l.Name(), l.OriginSerial, dest, loss, l.LossReference, l.Enabled, l.Inhibited)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled links")
	return cmd
}

func newLinkImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Create or update links from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %v", args[0], err)
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			n, err := c.ImportLinks(cmd.Context(), data)
			if err != nil {
				return fmt.Errorf("failed to import links: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d links\n", n)
			return nil
		},
	}
}

func newLinkExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every link definition as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			data, err := c.ExportLinks(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to export links: %v", err)
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %v", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Links exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newLinkToggleCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [link_id]",
		Short: short,
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

			if err := c.SetLinkEnabled(cmd.Context(), id, enabled); err != nil {
				return fmt.Errorf("failed to %s link: %v", use, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Link %d %sd\n", id, use)
			return nil
		},
	}
}

func newLinkDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete [link_id]",
		Short:   "Delete a link definition",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			if err := c.DeleteLink(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete link: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Link %d deleted\n", id)
			return nil
		},
	}
}
