package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirahollis/classphoto-organizer/internal/config"
	"github.com/mirahollis/classphoto-organizer/internal/dbstore"
	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
	"github.com/mirahollis/classphoto-organizer/internal/orchestrator"
	"github.com/mirahollis/classphoto-organizer/internal/reference"
	"github.com/mirahollis/classphoto-organizer/internal/roster"
	"github.com/mirahollis/classphoto-organizer/internal/webstatus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status server",
	Long: `serve starts the status HTTP server, which exposes /healthz and
/api/v1/status. The status endpoint reports the runs made by the
orchestrator in this process; serve does not itself run the organizing
pipeline, so it reports no run, and it does not read the reports that a
separate "organize" invocation writes to the output root.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to bind the status server to (overrides STATUS_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	addr := mustGetString(cmd, "addr")
	if addr == "" {
		addr = cfg.Status.Addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	engine := faceengine.New(cfg.Backend.EmbeddingURL, cfg.Backend.Model)

	var mirror reference.Mirror
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		m, err := dbstore.Connect(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		cancel()
		if err != nil {
			logger.Warn("reference mirror unavailable, continuing without it", "error", err)
		} else {
			mirror = m
			defer m.Close()
		}
	}

	var rosterLookup reference.RosterLookup
	if cfg.Database.RosterDSN != "" {
		r, err := roster.Connect(cfg.Database.RosterDSN)
		if err != nil {
			logger.Warn("roster cross-check unavailable, continuing without it", "error", err)
		} else {
			rosterLookup = r
			defer r.Close()
		}
	}

	o := orchestrator.New(cfg, engine, mirror, rosterLookup, logger)
	server := webstatus.NewServer(addr, o, cfg.Backend.Engine, cfg.Backend.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nshutting down status server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("status server listening", "addr", addr)
	if err := server.Start(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	<-ctx.Done()
	return nil
}
