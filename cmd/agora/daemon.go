package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/config"
	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/events"
	"github.com/fentz26/agora/internal/metrics"
	"github.com/fentz26/agora/internal/scheduler"
	"github.com/fentz26/agora/internal/store"
)

var (
	listenAddr string
	dbPath     string
	noSched    bool
	detach     bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Agora daemon",
	Long:  `Starts the Agora daemon which serves the HTTP API and runs the assignment and execution scheduler.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().BoolVar(&noSched, "no-scheduler", false, "Serve the API without the background scheduler")
	daemonCmd.Flags().BoolVar(&detach, "detach", false, "Run the daemon in the background")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromHome()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if detach {
		var daemonArgs []string
		if configPath != "" {
			daemonArgs = append(daemonArgs, "--config", configPath)
		}
		if listenAddr != "" {
			daemonArgs = append(daemonArgs, "--listen", listenAddr)
		}
		if dbPath != "" {
			daemonArgs = append(daemonArgs, "--db", dbPath)
		}
		if noSched {
			daemonArgs = append(daemonArgs, "--no-scheduler")
		}
		return startDaemon(daemonArgs)
	}

	log.Println("Starting Agora daemon...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Initialize store
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closing database connection...")
		if err := s.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}()

	// Ledger sinks: SQL audit table, optional LevelDB journal, live feed
	hub := events.NewHub()
	defer hub.Close()
	sinks := []audit.Ledger{audit.NewSQLWriter(s), hub}
	if cfg.Store.JournalPath != "" {
		journal, err := audit.OpenJournal(cfg.Store.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}
	ledger := audit.Multi(sinks...)

	exec, err := cfg.BuildExecutor()
	if err != nil {
		return err
	}
	if exec == nil {
		log.Println("No executor configured; assigned tasks will not be executed")
	} else {
		log.Printf("Using executor %s", exec.Name())
	}

	m := metrics.NewCollector()

	service, err := controlplane.NewService(s, ledger, exec, cfg.Service, cfg.Engines())
	if err != nil {
		return err
	}
	service.SetMetrics(m)

	server := controlplane.NewServer(service, cfg.Server)
	server.SetMetrics(m)
	server.SetEvents(hub)

	if !noSched {
		sched := scheduler.New(service, s, ledger, cfg.Scheduler)
		sched.SetMetrics(m)
		server.SetScheduler(sched)
		sched.Start()
		defer sched.Stop()
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
