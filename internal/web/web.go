package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"calpresence/internal/config"
	appLog "calpresence/internal/log"
	"calpresence/internal/model"
	"calpresence/internal/snapshot"
)

const shutdownTimeout = 10 * time.Second

// SnapshotReader is the read side of the snapshot cache.
type SnapshotReader interface {
	Current() model.Snapshot
	Refreshing() bool
}

// PresenceReader lists today's events mentioning a device name. A device
// is present when the list is non-empty.
type PresenceReader interface {
	Matching(name string) []string
}

// Options wires the server to the running application.
type Options struct {
	Listen    string
	BasicAuth *config.BasicAuthConfig
	Devices   []string
	Snapshots SnapshotReader
	Presence  PresenceReader
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server exposes the current snapshot and presence state over HTTP.
type Server struct {
	opts Options
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts: opts,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calpresence", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on opts.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String(), "basic_auth", s.basicAuthEnabled())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/presence", s.handlePresence)
	if s.opts.Metrics != nil {
		s.mux.Handle("/metrics", s.opts.Metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	State      string     `json:"state"`
	AsOf       *time.Time `json:"as_of,omitempty"`
	Stale      bool       `json:"stale"`
	Refreshing bool       `json:"refreshing"`
	EventCount int        `json:"event_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap := s.opts.Snapshots.Current()
	resp := statusResponse{
		State:      "empty",
		Stale:      !snapshot.IsFresh(snap, s.opts.Now()),
		Refreshing: s.opts.Snapshots.Refreshing(),
		EventCount: snap.Len(),
	}
	if asOf, ok := snap.AsOf(); ok {
		resp.State = "populated"
		resp.AsOf = &asOf
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	AsOf   *time.Time            `json:"as_of,omitempty"`
	Events []model.CalendarEvent `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap := s.opts.Snapshots.Current()
	resp := eventsResponse{Events: snap.EventsToday()}
	if resp.Events == nil {
		resp.Events = []model.CalendarEvent{}
	}
	if asOf, ok := snap.AsOf(); ok {
		resp.AsOf = &asOf
	}
	writeJSON(w, http.StatusOK, resp)
}

type presenceDTO struct {
	Name     string   `json:"name"`
	Present  bool     `json:"present"`
	Matching []string `json:"matching"`
}

// handlePresence reports presence for every configured device, or for the
// single name given as ?name=.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	names := s.opts.Devices
	if q := r.URL.Query(); q.Has("name") {
		name := strings.TrimSpace(q.Get("name"))
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		names = []string{name}
	}

	out := make([]presenceDTO, 0, len(names))
	for _, n := range names {
		// One snapshot load per entry keeps present and matching consistent.
		matching := s.opts.Presence.Matching(n)
		if matching == nil {
			matching = []string{}
		}
		out = append(out, presenceDTO{
			Name:     n,
			Present:  len(matching) > 0,
			Matching: matching,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
