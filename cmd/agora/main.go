package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora - agent task marketplace",
	Long: `Agora assigns tasks to autonomous agents by auction or team selection,
runs them through an execution oracle and feeds the results back into each
agent's capabilities and behavior.`,
	SilenceUsage: true,
}

var (
	apiAddr    string
	apiToken   string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("AGORA_TOKEN"), "Bearer token for the API (default $AGORA_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.agora/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
