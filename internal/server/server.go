package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/auth"
	"github.com/jpalmerr/pulsewatch/internal/store"
	"github.com/jpalmerr/pulsewatch/model"
)

const (
	// defaultTitle is used when no custom title is configured.
	defaultTitle = "PulseWatch"

	defaultAlertLimit = 50
	maxAlertLimit     = 500

	shutdownTimeout = 5 * time.Second
)

// Service is the monitoring state the API exposes.
type Service interface {
	Devices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error)
	Device(ctx context.Context, id int64) (model.Device, error)
	CheckDeviceByID(ctx context.Context, id int64) (model.CheckResult, error)
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// Server handles HTTP requests for the monitoring API.
//
// Routes:
//   - GET /healthz: liveness, unauthenticated
//   - GET /api/devices: device list, filterable by status, type and search
//   - GET /api/devices/{id}: one device
//   - POST /api/devices/{id}/check: run a check now
//   - GET /api/alerts: recent alerts, newest first
//   - GET /api/stats: aggregate counts
//   - GET /ws: realtime hub, which authenticates its own handshake
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	svc    Service
	authn  auth.Authenticator
	ws     http.Handler
	port   int
	title  string
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - svc: monitoring state served by the API
//   - authn: verifies bearer tokens on /api routes
//   - ws: realtime handler mounted at /ws (may be nil)
//   - port: TCP port to listen on, 0 picks a free port
//   - title: instance title reported by /healthz
//   - logger: logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(svc Service, authn auth.Authenticator, ws http.Handler, port int, title string, logger *slog.Logger) *Server {
	if title == "" {
		title = defaultTitle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		authn:  authn,
		ws:     ws,
		port:   port,
		title:  title,
		logger: logger,
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /api/devices", s.requireAuth(http.HandlerFunc(s.handleDevices)))
	mux.Handle("GET /api/devices/{id}", s.requireAuth(http.HandlerFunc(s.handleDevice)))
	mux.Handle("POST /api/devices/{id}/check", s.requireAuth(http.HandlerFunc(s.handleCheck)))
	mux.Handle("GET /api/alerts", s.requireAuth(http.HandlerFunc(s.handleAlerts)))
	mux.Handle("GET /api/stats", s.requireAuth(http.HandlerFunc(s.handleStats)))

	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, every in-flight request sees it, including
		// long-lived WebSocket handlers.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type identityKey struct{}

// IdentityFrom returns the identity the auth middleware attached to ctx.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authn.Verify(auth.TokenFromRequest(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pulsewatch"`)
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "title": s.title})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DeviceFilter{
		Status: model.Status(q.Get("status")),
		Type:   model.DeviceType(q.Get("type")),
		Search: q.Get("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", filter.Status))
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid type %q", filter.Type))
		return
	}

	devices, err := s.svc.Devices(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	d, err := s.svc.Device(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	result, err := s.svc.CheckDeviceByID(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	if ident, ok := IdentityFrom(r.Context()); ok {
		s.logger.Info("manual check", "device_id", id, "user_id", ident.UserID, "status", result.Status)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAlertLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAlertLimit))
			return
		}
		limit = n
	}

	alerts, err := s.svc.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return 0, false
	}
	return id, true
}

func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("device %d not found", id))
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
