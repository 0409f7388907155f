// Package server exposes the authoritative event log over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/events?since=<RFC3339Nano>   pull, ordered by server timestamp
//	POST /v1/events                       push {"events":[...]}
//	GET  /v1/events/stream                websocket, one JSON event per frame
//
// Every /v1 route requires a bearer token whose user_id claim is the owner
// identity of the log being read or written.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
)

// MaxPushBytes bounds a push request body.
const MaxPushBytes = 1 << 20

// PullResponse is the body of GET /v1/events.
type PullResponse struct {
	Events []event.Event `json:"events"`
}

// PushRequest is the body of POST /v1/events. Events are decoded one at a
// time so a malformed element can be reported precisely.
type PushRequest struct {
	Events []json.RawMessage `json:"events"`
}

// PushResponse is the body of a successful push. Events echoes the newly
// accepted events with their server timestamps.
type PushResponse struct {
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Events     []event.Event `json:"events"`
}

// Server serves one store.Log.
type Server struct {
	log    store.Log
	auth   *auth.Manager
	logger *slog.Logger
	hub    *hub
}

// New creates a Server. A nil logger uses slog.Default().
func New(log store.Log, authManager *auth.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:    log,
		auth:   authManager,
		logger: logger,
		hub:    newHub(),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/events", s.handlePull)
			r.Post("/events", s.handlePush)
		})

		// Long-lived; no request timeout.
		r.Get("/events/stream", s.handleStream)
	})

	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid since")
			return
		}
		since = &ts
	}

	events, err := s.log.Since(r.Context(), owner, since)
	if err != nil {
		s.logger.Error("pull failed", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read events")
		return
	}
	writeJSON(w, http.StatusOK, PullResponse{Events: events})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return
	}

	var req PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPushBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid body")
		return
	}

	events, dropped, err := event.DecodeRaw(req.Events)
	if err != nil || dropped > 0 {
		writeError(w, http.StatusBadRequest, "MALFORMED_EVENT", "Undecodable event")
		return
	}
	for _, e := range events {
		if err := event.Validate(e); err != nil {
			writeError(w, http.StatusBadRequest, "MALFORMED_EVENT", err.Error())
			return
		}
	}

	res, err := s.log.Append(r.Context(), owner, events)
	if err != nil {
		s.logger.Error("push failed", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store events")
		return
	}

	s.logger.Debug("push", "owner", owner, "accepted", len(res.Accepted), "duplicates", res.Duplicates)
	s.hub.publish(owner, res.Accepted)

	writeJSON(w, http.StatusOK, PushResponse{
		Accepted:   len(res.Accepted),
		Duplicates: res.Duplicates,
		Events:     res.Accepted,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		p := newPeer(peerBuffer, func() {
			_ = conn.Close()
		})
		defer p.close()

		s.hub.join(owner, p)
		defer s.hub.leave(owner, p)

		done := make(chan struct{})
		defer close(done)
		go p.writeLoop(conn, done)
		s.logger.Debug("stream opened", "owner", owner)

		// Clients never send frames; reading only detects disconnect.
		_, _ = io.Copy(io.Discard, conn)
		s.logger.Debug("stream closed", "owner", owner)
	}).ServeHTTP(w, r)
}
