package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHealthCmd creates the health command
func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon and store health",
		Long:  `Probe the daemon's health endpoint. Exits non-zero when the daemon is unreachable or degraded, so the command can back health checks in scripts.`,
		// A degraded daemon is not a usage problem.
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			resp, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				if err := printJSON(resp); err != nil {
					return err
				}
			} else if resp.Status == "healthy" {
				success(fmt.Sprintf("Daemon healthy (store: %s)", resp.Store))
			} else {
				warning(fmt.Sprintf("Daemon degraded (store: %s)", resp.Store))
			}

			if resp.Status != "healthy" {
				return fmt.Errorf("daemon degraded")
			}
			return nil
		},
	}
}

// NewResetCmd creates the reset command
func NewResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset tracked source performance to baseline",
		Long:  `Clear all tracked accuracy and trust state on the daemon. Feedback history and mined patterns are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			resp, err := client.Reset(cmd.Context())
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(resp)
			}

			success("Performance tracking reset to baseline")
			return nil
		},
	}
}
