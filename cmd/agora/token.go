package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/controlplane"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with the configured secret",
	RunE:  runToken,
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is not set; API auth is disabled")
	}
	token, err := controlplane.IssueToken(cfg.Server.JWTSecret, tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
