package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jade-gate/jadegate/internal/domain/policy"
)

var (
	policyFormat string
	policyOutput string
	policyPreset string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or initialize the security policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Render the effective policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := presetPolicy()
		if err != nil {
			return err
		}
		if cfg.PolicyPath != "" {
			override, err := policy.FromFile(cfg.PolicyPath)
			if err != nil {
				return err
			}
			pol = pol.Merge(override)
		}

		var out []byte
		switch policyFormat {
		case "yaml":
			out, err = yaml.Marshal(pol)
		case "json":
			out, err = json.MarshalIndent(pol, "", "  ")
		default:
			return fmt.Errorf("unknown format %q (want json or yaml)", policyFormat)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a policy file with preset contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := presetPolicy()
		if err != nil {
			return err
		}
		if err := pol.Save(policyOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "policy written to %s\n", policyOutput)
		return nil
	},
}

func presetPolicy() (*policy.Policy, error) {
	switch policyPreset {
	case "default":
		return policy.Default(), nil
	case "strict":
		return policy.Strict(), nil
	case "permissive":
		return policy.Permissive(), nil
	default:
		return nil, fmt.Errorf("unknown preset %q (want default, strict, or permissive)", policyPreset)
	}
}

func init() {
	policyShowCmd.Flags().StringVar(&policyFormat, "format", "json", "output format: json or yaml")
	policyInitCmd.Flags().StringVar(&policyOutput, "output", "jadegate-policy.json", "output path")
	policyCmd.PersistentFlags().StringVar(&policyPreset, "preset", "default", "policy preset: default, strict, or permissive")
	policyCmd.AddCommand(policyShowCmd, policyInitCmd)
	rootCmd.AddCommand(policyCmd)
}
