// Package server hosts the websocket boundary and a small read-only API
// over the session manager and history store.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/shellmux/internal/config"
	"github.com/user/shellmux/internal/history"
	"github.com/user/shellmux/internal/hub"
	"github.com/user/shellmux/internal/session"
)

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

// New wires the routes: /ws for the UI connection, /api/sessions and
// /api/history for read-only inspection. The history store may be nil,
// in which case the history endpoint reports unavailability.
func New(cfg *config.Config, h *hub.Hub, mgr *session.Manager, store *history.Store) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"sessions": mgr.Sessions(),
			"count":    mgr.Count(),
		})
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if store == nil {
			jsonError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				jsonError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		var (
			entries []history.Entry
			err     error
		)
		if sessionID := r.URL.Query().Get("session"); sessionID != "" {
			entries, err = store.BySession(r.Context(), sessionID, limit)
		} else {
			entries, err = store.Recent(r.Context(), limit)
		}
		if err != nil {
			slog.Error("history query failed", "error", err)
			jsonError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"entries": entries})
	})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler: mux,
		},
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
