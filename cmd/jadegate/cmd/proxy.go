package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jade-gate/jadegate/internal/adapter/inbound/stdio"
	"github.com/jade-gate/jadegate/internal/adapter/outbound/audit"
	celrules "github.com/jade-gate/jadegate/internal/adapter/outbound/cel"
	"github.com/jade-gate/jadegate/internal/adapter/outbound/mcp"
	"github.com/jade-gate/jadegate/internal/domain/policy"
	"github.com/jade-gate/jadegate/internal/domain/runtime"
	"github.com/jade-gate/jadegate/internal/domain/trust"
	"github.com/jade-gate/jadegate/internal/service"
)

var (
	proxyPolicyFile string
	proxyStrict     bool
	proxyPermissive bool
)

var proxyCmd = &cobra.Command{
	Use:   "proxy <command> [args...]",
	Short: "Run the stdio security proxy in front of an MCP server",
	Long: `Launches the given MCP server command as a child process and splices the
security pipeline between it and the host application on stdio.

Examples:
  jadegate proxy npx -y @modelcontextprotocol/server-filesystem /tmp
  jadegate proxy --strict python my_server.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProxy,
	// Upstream flags belong to the wrapped command.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
}

func init() {
	proxyCmd.Flags().StringVar(&proxyPolicyFile, "policy", "", "policy file (jadegate_policy JSON)")
	proxyCmd.Flags().BoolVar(&proxyStrict, "strict", false, "use the strict policy preset")
	proxyCmd.Flags().BoolVar(&proxyPermissive, "permissive", false, "use the permissive policy preset")
	rootCmd.AddCommand(proxyCmd)
}

func loadProxyPolicy() (*policy.Policy, error) {
	if proxyStrict && proxyPermissive {
		return nil, errors.New("--strict and --permissive are mutually exclusive")
	}

	var base *policy.Policy
	switch {
	case proxyStrict:
		base = policy.Strict()
	case proxyPermissive:
		base = policy.Permissive()
	default:
		base = policy.Default()
	}

	policyFile := proxyPolicyFile
	if policyFile == "" {
		policyFile = cfg.PolicyPath
	}
	if policyFile == "" {
		return base, nil
	}
	override, err := policy.FromFile(policyFile)
	if err != nil {
		return nil, err
	}
	merged := base.Merge(override)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	pol, err := loadProxyPolicy()
	if err != nil {
		return err
	}

	var rules runtime.RuleEvaluator
	if len(pol.CustomRules) > 0 {
		eval, err := celrules.NewRuleEvaluator(pol.CustomRules, log)
		if err != nil {
			return err
		}
		log.Info("custom rules loaded", "count", eval.RuleCount())
		rules = eval
	}

	var sink runtime.AuditSink
	auditPath := pol.AuditLogPath
	if auditPath == "" {
		auditPath = cfg.AuditLogPath
	}
	if pol.EnableAuditLog && auditPath != "" {
		s, err := audit.Open(auditPath)
		if err != nil {
			log.Warn("audit sink unavailable", "path", auditPath, "error", err)
		} else {
			sink = s
			defer s.Close()
		}
	}

	session := runtime.NewSession(pol, rules, sink, log)

	// Baseline checking is best-effort: a broken trust dir degrades to an
	// unchecked session rather than blocking the proxy.
	var tofu *trust.TOFU
	if store, err := trust.OpenStore(cfg.TrustDir, log); err != nil {
		log.Warn("trust store unavailable, TOFU checks disabled", "error", err)
	} else {
		tofu = trust.NewTOFU(store, log)
	}

	upstream := mcp.NewStdioClient(args[0], args[1:], cfg.UpstreamEnv, log)
	if err := upstream.Start(); err != nil {
		return err
	}

	proxy := service.NewProxyService(session, upstream, service.Options{
		ResponseTimeout: time.Duration(cfg.ResponseTimeoutSec) * time.Second,
		Trust:           tofu,
		ServerID:        filepath.Base(args[0]),
		Logger:          log,
	})
	return stdio.Serve(context.Background(), proxy)
}
