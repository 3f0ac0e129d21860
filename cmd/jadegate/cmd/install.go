package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jade-gate/jadegate/internal/installer"
)

var installBinary string

var installCmd = &cobra.Command{
	Use:   "install [config-paths...]",
	Short: "Rewrite MCP client configs to route servers through jadegate",
	Long: `Wraps every MCP server entry in the detected client configs (or the given
config files) so the server launches through 'jadegate proxy'. A sibling
.jadegate-backup of each touched file is kept for uninstall.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := installer.New(installBinary, slog.Default()).Install(args)
		return printInstallResults(cmd, results, "no MCP client configs found")
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [config-paths...]",
	Short: "Restore MCP client configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		results := installer.New(installBinary, slog.Default()).Uninstall(args)
		return printInstallResults(cmd, results, "no MCP client configs found")
	},
}

func printInstallResults(cmd *cobra.Command, results []installer.Result, emptyMsg string) error {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, emptyMsg)
		return nil
	}
	var failed int
	for _, r := range results {
		if !r.Success {
			failed++
			fmt.Fprintf(out, "%s (%s): error: %s\n", r.ClientName, r.ConfigPath, r.Error)
			continue
		}
		fmt.Fprintf(out, "%s (%s): %d servers, %d changed, %d already protected\n",
			r.ClientName, r.ConfigPath, r.ServersFound, r.ServersWrapped, r.AlreadyProtected)
	}
	if failed > 0 {
		return fmt.Errorf("%d config(s) failed", failed)
	}
	return nil
}

func init() {
	installCmd.Flags().StringVar(&installBinary, "binary", "", "jadegate binary path to write into configs (default: resolve from PATH)")
	uninstallCmd.Flags().StringVar(&installBinary, "binary", "", "jadegate binary path (unused on uninstall)")
	rootCmd.AddCommand(installCmd, uninstallCmd)
}
