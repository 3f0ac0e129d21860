package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jade-gate/jadegate/internal/domain/trust"
	"github.com/jade-gate/jadegate/internal/installer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show trust store summary and protected clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trust.OpenStore(cfg.TrustDir, slog.Default())
		if err != nil {
			return err
		}
		sum := store.Summary()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "trust store: %s\n", sum.TrustDir)
		fmt.Fprintf(out, "  certificates: %d (signed %d, trusted %d, high-risk %d)\n",
			sum.TotalCertificates, sum.Signed, sum.Trusted, sum.HighRisk)

		fmt.Fprintln(out, "protected clients:")
		results := installer.New("", slog.Default()).Status()
		if len(results) == 0 {
			fmt.Fprintln(out, "  none detected")
			return nil
		}
		for _, r := range results {
			if !r.Success {
				fmt.Fprintf(out, "  %s: error: %s\n", r.ClientName, r.Error)
				continue
			}
			fmt.Fprintf(out, "  %s: %d/%d servers protected (%s)\n",
				r.ClientName, r.AlreadyProtected, r.ServersFound, r.ConfigPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
