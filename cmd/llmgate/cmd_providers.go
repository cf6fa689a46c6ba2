package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/config"
)

func init() {
	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and whether a credential is configured",
	RunE:  runProviders,
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	for _, key := range config.ProviderKeys {
		pc := cfg.Providers[key]
		status := "not configured (set " + config.EnvVars[key] + ")"
		if pc.APIKey != "" {
			status = "configured"
		}
		model := pc.Model
		if model == "" && len(pc.Models) > 0 {
			model = pc.Models[0]
		}
		fmt.Printf("%-10s %-32s %s\n", key, model, status)
	}
	return nil
}
