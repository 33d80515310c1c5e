package main

import (
	"fmt"

	"github.com/cuemby/protect-init/pkg/health"
	"github.com/spf13/cobra"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe the server ports (for the container HEALTHCHECK)",
	Long: `Probe the server agent and console ports on the local host.

Exits 0 when every port accepts a TCP connection and 1 otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		if host, _ := cmd.Flags().GetString("host"); host != "" {
			cfg.Health.Host = host
		}
		if ports, _ := cmd.Flags().GetIntSlice("ports"); len(ports) > 0 {
			cfg.Health.Ports = ports
		}

		if err := health.Probe(cmd.Context(), cfg.Health.Host, cfg.Health.Ports, cfg.Health.Timeout); err != nil {
			return &exitError{code: 1, err: err}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "healthy")
		return nil
	},
}

func init() {
	healthcheckCmd.Flags().String("host", "", "Host to probe (default from config, 127.0.0.1)")
	healthcheckCmd.Flags().IntSlice("ports", nil, "Ports to probe (default 2222,2223)")
}
