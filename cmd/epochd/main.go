// Package main is the entry point for the Epoch Protocol Engine daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/epoch-engine/internal/config"
	"github.com/anthropics/epoch-engine/internal/ipc"
	"github.com/anthropics/epoch-engine/internal/orchestrator"
	"github.com/anthropics/epoch-engine/internal/protocol"
	"github.com/anthropics/epoch-engine/internal/rules"
	"github.com/anthropics/epoch-engine/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("epochd %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Resolve config path: --config flag > EPOCH_CONFIG env > auto-discover.
	path := *configPath
	if path == "" {
		path = os.Getenv("EPOCH_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.json next to the exe, use --config <path>, or set EPOCH_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	table := protocol.Embedded()
	if cfg.ProtocolTablePath != "" {
		table, err = protocol.LoadTable(cfg.ProtocolTablePath)
		if err != nil {
			fatal(fmt.Sprintf("load protocol table: %v", err))
		}
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		fatal(fmt.Sprintf("open database: %v", err))
	}
	defer db.Close()

	ruleEng := rules.NewEngine(table, rules.Config{
		MaxRevisionRounds: cfg.MaxRevisionRounds,
	})

	registry := ipc.NewRegistry(db, table, ruleEng, orchestrator.Config{
		QueueSize:         cfg.CommandQueueSize,
		MaxParallelSlices: cfg.MaxParallelSlices,
		Logger:            log,
	}, log)

	handler := &ipc.Handler{
		Registry:   registry,
		DB:         db,
		RecordRepo: &store.RecordRepo{},
		VoteRepo:   &store.VoteRepo{},
		SliceRepo:  &store.SliceRepo{},
	}

	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown", "err", err)
		}
	}()

	log.Info("epoch engine listening",
		"url", ipc.FormatListenURL(cfg.ListenAddr),
		"table_version", table.Version())

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
