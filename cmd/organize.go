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
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Run one pass of the organizing pipeline",
	Long: `organize scans the input roots, recognizes faces against the reference
set, clusters unrecognized faces, and writes the organized output tree.
A run is incremental: dates that haven't changed since the last run are
skipped rather than re-recognized.`,
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)

	organizeCmd.Flags().Bool("quiet", false, "Suppress the human-readable progress bar")
	organizeCmd.Flags().Bool("force-serial", false, "Disable parallel recognition dispatch regardless of batch size")
	organizeCmd.Flags().Bool("force-parallel", false, "Force parallel recognition dispatch regardless of batch size")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	quiet := mustGetBool(cmd, "quiet")
	if mustGetBool(cmd, "force-serial") {
		cfg.Parallel.ForceSerial = true
	}
	if mustGetBool(cmd, "force-parallel") {
		cfg.Parallel.ForceParallel = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	engine := faceengine.New(cfg.Backend.EmbeddingURL, cfg.Backend.Model)

	var mirror reference.Mirror
	var dbMirror *dbstore.Mirror
	if cfg.Database.URL != "" {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		m, err := dbstore.Connect(connectCtx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		connectCancel()
		if err != nil {
			logger.Warn("reference mirror unavailable, continuing without it", "error", err)
		} else {
			mirror, dbMirror = m, m
		}
	}

	var rosterLookup reference.RosterLookup
	var rosterConn *roster.Lookup
	if cfg.Database.RosterDSN != "" {
		r, err := roster.Connect(cfg.Database.RosterDSN)
		if err != nil {
			logger.Warn("roster cross-check unavailable, continuing without it", "error", err)
		} else {
			rosterLookup, rosterConn = r, r
		}
	}

	o := orchestrator.New(cfg, engine, mirror, rosterLookup, logger)
	o.Quiet = quiet

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nreceived interrupt signal, finishing current date...")
		cancel()
	}()

	code := o.Run(ctx)

	if dbMirror != nil {
		dbMirror.Close()
	}
	if rosterConn != nil {
		rosterConn.Close()
	}

	os.Exit(code)
	return nil
}
