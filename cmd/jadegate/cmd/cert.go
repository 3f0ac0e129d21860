package cmd

import (
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jade-gate/jadegate/internal/domain/trust"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect and manage tool certificates",
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "Tabulate stored certificates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trust.OpenStore(cfg.TrustDir, slog.Default())
		if err != nil {
			return err
		}
		certs := store.ListAll()
		sort.Slice(certs, func(i, j int) bool { return certs[i].ToolID < certs[j].ToolID })

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tRISK\tTRUST\tCALLS\tSIGNED")
		for _, c := range certs {
			signed := "no"
			if c.IsSigned() {
				signed = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%d\t%s\n",
				c.ToolID, c.RiskProfile.Level, c.TrustScore,
				c.SuccessCount+c.FailureCount, signed)
		}
		return w.Flush()
	},
}

var certResetCmd = &cobra.Command{
	Use:   "reset <tool-id>",
	Short: "Remove a tool's baseline so the next encounter re-pins it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trust.OpenStore(cfg.TrustDir, slog.Default())
		if err != nil {
			return err
		}
		if !store.Remove(args[0]) {
			return fmt.Errorf("no certificate stored for %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "baseline reset for %s\n", args[0])
		return nil
	},
}

func init() {
	certCmd.AddCommand(certListCmd, certResetCmd)
	rootCmd.AddCommand(certCmd)
}
