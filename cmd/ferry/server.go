package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/ferry/internal/backup"
	"github.com/tinytelemetry/ferry/internal/duckdb"
	"github.com/tinytelemetry/ferry/internal/httpserver"
)

// runServer serves invocations over HTTP and drains local continuations.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger(cfg.LogStderr)
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Start retention cleaner for automatic event expiry
	retentionCleaner := duckdb.NewRetentionCleaner(rt.store, duckdb.RetentionConfig{
		RetentionDays: cfg.LogRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	if cfg.BackupEnabled {
		backupManager, err := newBackupManager(cfg, rt)
		if err != nil {
			return fmt.Errorf("failed to initialize backups: %w", err)
		}
		defer backupManager.Stop()
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, rt.handler, rt.store, httpserver.Config{
			InvokeTimeout: cfg.InvokeTimeout,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, rt)

	g, gctx := errgroup.WithContext(ctx)

	if rt.journal != nil {
		worker := &continuationWorker{
			queue:    rt.journal,
			invoker:  rt.handler,
			interval: cfg.ContinuationInterval,
			timeout:  cfg.InvokeTimeout,
		}
		g.Go(func() error { return worker.run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	signal.Stop(sigCh)
	return nil
}

func newBackupManager(cfg appConfig, rt *runtime) (*backup.Manager, error) {
	var uploader backup.Uploader
	if cfg.BackupBucketURL != "" {
		u, err := backup.NewS3Uploader(rt.objects, cfg.BackupBucketURL)
		if err != nil {
			return nil, err
		}
		uploader = u
	}
	return backup.NewManager(rt.store, uploader, backup.Config{
		Interval: cfg.BackupInterval,
		LocalDir: cfg.BackupLocalDir,
		KeepLast: cfg.BackupKeepLast,
	})
}

func configureRuntimeLogger(toStderr bool) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if toStderr {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "ferry")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "ferry.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, rt *runtime) {
	fmt.Println(startupBanner(cfg, rt))
}

func startupBanner(cfg appConfig, rt *runtime) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╦═╗╦═╗╦ ╦
    ╠╣ ║╣ ╠╦╝╠╦╝╚╦╝
    ╚  ╚═╝╩╚═╩╚═ ╩ `)

	row := func(ok bool, label, value string) string {
		mark, style := dot, dim
		if ok {
			mark, style = check, cyan
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, style.Render(value))
	}

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, row(true, "HTTP API", cfg.APIAddr))
	} else {
		lines = append(lines, row(false, "HTTP API", "disabled"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Delivery"), "")
	lines = append(lines, row(true, "Storage", shortenPath(cfg.DBPath)))
	if cfg.LogRetention > 0 {
		lines = append(lines, row(true, "Retention", fmt.Sprintf("%d days", cfg.LogRetention)))
	} else {
		lines = append(lines, row(false, "Retention", "disabled"))
	}
	if cfg.ReplayQueueURL != "" {
		lines = append(lines, row(true, "Replay queue", cfg.ReplayQueueURL))
	} else {
		lines = append(lines, row(false, "Replay queue", "disabled"))
	}
	if cfg.BackupEnabled {
		lines = append(lines, row(true, "Snapshots", shortenPath(cfg.BackupLocalDir)))
	} else {
		lines = append(lines, row(false, "Snapshots", "disabled"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Resume"), "")
	if rt.journal != nil {
		lines = append(lines, row(true, "Continuations", shortenPath(cfg.JournalPath)))
	} else {
		lines = append(lines, row(true, "Continuations", cfg.ContinuationQueueURL))
	}
	lines = append(lines, row(true, "Grace period", cfg.GracePeriod.String()))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if rt.inputs != nil {
		lines = append(lines, row(true, "Inputs", fmt.Sprintf("%s (%d)", shortenPath(cfg.InputsPath), len(rt.inputs.Inputs))))
	} else {
		lines = append(lines, row(false, "Inputs", "none"))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
