package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"venuebook/internal/config"
	"venuebook/internal/domain"
	"venuebook/internal/logging"
	"venuebook/internal/metrics"
	"venuebook/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Services are the collaborators the HTTP handlers call into.
type Services struct {
	Store    domain.Store
	Checker  *service.AvailabilityChecker
	Bookings *service.BookingService
	Series   *service.SeriesService
}

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	server   *http.Server
	auth     *HTTPAuth
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, limiter *RateLimiter, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		validate: newValidator(),
		log:      logging.Component(logger, "http"),
	}
	srv.auth = NewHTTPAuth(cfg, limiter)

	mux := http.NewServeMux()
	srv.route(mux, "POST /api/v1/availability/check", srv.handleCheckAvailability)
	srv.route(mux, "GET /api/v1/availability/{kind}", srv.handleScanResources)
	srv.route(mux, "POST /api/v1/recurrence/preview", srv.handlePreviewRecurrence)
	srv.route(mux, "POST /api/v1/recurrence/check", srv.handleCheckSeries)
	srv.route(mux, "POST /api/v1/series", srv.handleCreateSeries)
	srv.route(mux, "POST /api/v1/series/{id}/cancel", srv.handleCancelSeries)
	srv.route(mux, "GET /api/v1/bookings/{id}/series", srv.handleGetSeries)
	srv.route(mux, "GET /api/v1/bookings/{id}/series.xlsx", srv.handleExportXLSX)
	srv.route(mux, "GET /api/v1/bookings/{id}/series.ics", srv.handleExportICS)
	srv.route(mux, "POST /api/v1/bookings", srv.handleCreateBooking)
	srv.route(mux, "POST /api/v1/bookings/status", srv.handleUpdateStatuses)
	srv.route(mux, "POST /api/v1/bookings/delete", srv.handleDeleteBookings)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// route registers h and counts its requests under the route pattern.
func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

// Handler is the fully wrapped handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyring
	limiter *RateLimiter
}

func NewHTTPAuth(cfg config.APIConfig, limiter *RateLimiter) *HTTPAuth {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth.APIKeys), limiter: limiter}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			client, err := a.checkAuth(r)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
			r = r.WithContext(withIdentity(r.Context(), clientIdentity(client)))
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = errors.New("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader(a.cfg.Auth)))
	if apiKey == "" {
		return config.APIClientKey{}, errors.New("missing api key header")
	}

	client, ok := a.keys.lookup(apiKey)
	if !ok {
		return config.APIClientKey{}, errors.New("invalid api key")
	}

	if !hasPermission(client, requiredPermissionHTTP(r)) {
		return config.APIClientKey{}, errPermissionDenied
	}
	return client, nil
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/availability"), strings.HasPrefix(path, "/api/v1/recurrence"):
		return permReadAvailability
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/bookings"):
		return permReadBookings
	case strings.HasPrefix(path, "/api/v1/bookings"), strings.HasPrefix(path, "/api/v1/series"):
		return permWriteBookings
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader(a.cfg.Auth))); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

type errorResponse struct {
	Error       string                      `json:"error"`
	Kind        string                      `json:"kind,omitempty"`
	Field       string                      `json:"field,omitempty"`
	Conflicts   any                         `json:"conflicts,omitempty"`
	Occurrences []domain.OccurrenceConflict `json:"occurrences,omitempty"`
}

// writeDomainError maps core error kinds onto HTTP status codes. Unknown
// errors are logged and reported as a bare 500.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Kind == domain.KindInternal {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := errorResponse{
		Error:       derr.Message,
		Kind:        derr.Kind.String(),
		Field:       derr.Field,
		Occurrences: derr.Occurrences,
	}
	if len(derr.Conflicts) > 0 {
		resp.Conflicts = derr.Conflicts
	}
	writeJSON(w, statusForKind(derr.Kind), resp)
}

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation, domain.KindGenerationSafety:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
