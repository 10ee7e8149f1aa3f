package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and worker pool state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if health != nil {
		fmt.Printf("Daemon:   %s (version %s)\n", okString(health.OK), health.Version)
		fmt.Printf("Database: %s\n", health.DB)
	}
	if err != nil {
		return err
	}

	var workers map[string]interface{}
	if err := apiGetJSON("/workers", &workers); err != nil {
		return err
	}
	keys := make([]string, 0, len(workers))
	for k := range workers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-16s %v\n", k+":", workers[k])
	}
	return nil
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "unhealthy"
}
