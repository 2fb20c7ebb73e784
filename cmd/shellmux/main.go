package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/user/shellmux/internal/config"
	"github.com/user/shellmux/internal/dispatch"
	"github.com/user/shellmux/internal/history"
	"github.com/user/shellmux/internal/hub"
	"github.com/user/shellmux/internal/pty"
	"github.com/user/shellmux/internal/server"
	"github.com/user/shellmux/internal/session"
)

func main() {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.HistoryPath)
	if err != nil {
		slog.Warn("command history disabled", "error", err)
		store = nil
	}
	defer store.Close()

	var pool *pty.Pool
	if cfg.PoolSize > 0 {
		pool = pty.NewPool(cfg.PoolSize, cfg.PoolMaxAge, cfg.PoolInterval, func() (*pty.Session, error) {
			return session.Spawn(80, 24)
		})
		pool.Start(ctx)
		go pool.Fill()
	}

	opts := session.Options{
		MaxSessions: cfg.MaxSessions,
		CwdTimeout:  cfg.CwdTimeout,
	}
	if store != nil {
		opts.History = store
	}
	mgr := session.New(pool, opts)
	defer mgr.KillAll()

	h := hub.New(cfg.Token, mgr, dispatch.New())
	go h.Run(ctx)

	if cfg.PrintToken {
		fmt.Printf("\nshellmux running at ws://127.0.0.1:%d/ws?token=%s\n\n", cfg.Port, cfg.Token)
	}

	srv := server.New(cfg, h, mgr, store)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupLogging picks a text handler when attached to a terminal and
// JSON when output is captured by a supervisor.
func setupLogging() {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
