// Package cmd provides the CLI commands for jadegate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jade-gate/jadegate/internal/config"
)

var cfgFile string

// cfg is loaded once before any command runs. Logging goes to stderr:
// stdout belongs to the JSON-RPC stream when proxying.
var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "jadegate",
	Short: "JadeGate - local security gateway for MCP tool calls",
	Long: `JadeGate is a local security gateway that sits between an MCP client
and the tool servers it invokes. Every tool call is intercepted, evaluated
against a declarative policy, correlated with prior calls in the same
session, and either forwarded, denied, or held for human approval.

Everything runs on this machine. No outbound network dependencies.

Quick start:
  1. Protect your MCP clients:  jadegate install
  2. Or wrap one server by hand: jadegate proxy <command> [args...]

Configuration:
  Gateway config is loaded from jadegate.yaml in the current directory or
  $HOME/.jadegate/. Environment variables override with the JADEGATE_
  prefix, e.g. JADEGATE_LOG_LEVEL=debug.

Commands:
  proxy       Run the stdio proxy in front of an MCP server
  status      Show trust store summary and protected clients
  policy      Show or initialize the security policy
  cert        List or reset tool certificates
  install     Rewrite MCP client configs to route through jadegate
  uninstall   Restore MCP client configs
  version     Print version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		})))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./jadegate.yaml or ~/.jadegate/jadegate.yaml)")
}
