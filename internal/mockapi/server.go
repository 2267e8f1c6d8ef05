package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jpalmerr/sitewatch/api"
)

// Fault makes the next Times requests to a route fail or stall. Route keys
// are the method and request path, for example "GET /api/stats" or
// "PUT /api/sites/3/toggle".
type Fault struct {
	// Status, when non-zero, is returned with Message as the error body.
	Status  int
	Message string

	// Delay is applied before the request is handled or failed.
	Delay time.Duration

	// Times is how many requests the fault applies to; 0 means once.
	Times int
}

// Server exposes a [Backend] over HTTP.
//
// Server provides the monitoring API under /api:
//   - GET /api/sites, POST /api/sites
//   - DELETE /api/sites/{id}, PUT /api/sites/{id}/toggle
//   - POST /api/monitor/check/{id}, GET /api/monitor/status
//   - GET /api/logs, GET /api/stats
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	backend *Backend
	addr    string
	logger  *slog.Logger
	router  *chi.Mux

	httpServer *http.Server
	listenAddr string

	faultMu sync.Mutex
	faults  map[string]*Fault
}

// NewServer creates a new [Server] for b. It is not listening until
// [Server.Start] is called; [Server.Handler] can be used directly with
// httptest.
func NewServer(b *Backend, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: b,
		addr:    addr,
		logger:  logger,
		router:  chi.NewRouter(),
		faults:  make(map[string]*Fault),
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// InjectFault registers f for route, replacing any previous fault.
func (s *Server) InjectFault(route string, f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	s.faultMu.Lock()
	s.faults[route] = &f
	s.faultMu.Unlock()
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.faultMu.Lock()
	s.faults = make(map[string]*Fault)
	s.faultMu.Unlock()
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.faultMiddleware)

		r.Get("/sites", s.handleListSites)
		r.Post("/sites", s.handleCreateSite)
		r.Delete("/sites/{id}", s.handleDeleteSite)
		r.Put("/sites/{id}/toggle", s.handleToggleSite)

		r.Get("/logs", s.handleLogs)
		r.Get("/stats", s.handleStats)

		r.Post("/monitor/check/{id}", s.handleCheck)
		r.Get("/monitor/status", s.handleMonitorStatus)
	})
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start returns once the listener is bound, so a bind failure is reported
// synchronously. The server shuts down gracefully with a 5-second timeout
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.addr, err)
	}
	s.listenAddr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("mock api listening", "addr", s.listenAddr)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.listenAddr
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites := s.backend.Sites()
	sendJSON(w, http.StatusOK, map[string]any{
		"sites": sites,
		"total": len(sites),
	})
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.URL) == "" {
		sendError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	site := s.backend.AddSite(req.Name, req.URL)
	s.logger.Info("site created", "id", site.ID, "url", site.URL)
	sendJSON(w, http.StatusCreated, map[string]any{
		"message": "Site created successfully",
		"site":    site,
	})
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	if err := s.backend.DeleteSite(id); err != nil {
		sendError(w, http.StatusNotFound, "Site not found")
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"message": "Site removed successfully"})
}

func (s *Server) handleToggleSite(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	site, err := s.backend.ToggleSite(id)
	if err != nil {
		sendError(w, http.StatusNotFound, "Site not found")
		return
	}
	state := "enabled"
	if !site.Active {
		state = "disabled"
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"message": "Site " + state + " successfully",
		"site":    site,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := api.LogQuery{Status: r.URL.Query().Get("status")}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"page", &q.Page}} {
		if v := r.URL.Query().Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				sendError(w, http.StatusBadRequest, "invalid "+p.name)
				return
			}
			*p.dst = n
		}
	}
	if v := r.URL.Query().Get("site_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 0)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid site_id")
			return
		}
		q.SiteID = uint(n)
	}

	sendJSON(w, http.StatusOK, s.backend.Logs(q))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.backend.Stats())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	if err := s.backend.ScheduleCheck(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			sendError(w, http.StatusNotFound, "Site not found")
			return
		}
		sendError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]string{"message": "Check queued"})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.backend.MonitorStatus())
}

// faultMiddleware applies injected faults by route pattern.
func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.takeFault(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.Status != 0 {
			sendError(w, f.Status, f.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFault(r *http.Request) (Fault, bool) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if len(s.faults) == 0 {
		return Fault{}, false
	}

	key := r.Method + " " + r.URL.Path
	f, ok := s.faults[key]
	if !ok {
		return Fault{}, false
	}
	f.Times--
	if f.Times <= 0 {
		delete(s.faults, key)
	}
	return *f, true
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func siteID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 0)
	if err != nil || n == 0 {
		sendError(w, http.StatusBadRequest, "invalid ID")
		return 0, false
	}
	return uint(n), true
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, api.ErrorResponse{Error: message})
}
