package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/linkeye/internal/api/client"
	"github.com/spf13/cobra"
)

func NewLoginCommand() *cobra.Command {
	var (
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the LinkEye API and save the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("LINKEYE_PASSWORD")
			}
			c := client.New(os.Getenv("LINKEYE_API_URL"), "")
			token, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login failed: %v", err)
			}
			if err := client.SaveToken(token); err != nil {
				return fmt.Errorf("failed to save token: %v", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "User name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or LINKEYE_PASSWORD)")
	cmd.MarkFlagRequired("username")

	return cmd
}

func NewSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			values, err := c.Settings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get settings: %v", err)
			}
			return printKeyValues(cmd, values)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key=value]...",
		Short: "Store one or more settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				values[key] = value
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			if err := c.UpdateSettings(cmd.Context(), values); err != nil {
				return fmt.Errorf("failed to update settings: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d settings\n", len(values))
			return nil
		},
	})

	return cmd
}
