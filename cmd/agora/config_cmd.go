package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/agora/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var configForce bool

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret != "" {
		cfg.Server.JWTSecret = "<redacted>"
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.HomePath()
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
