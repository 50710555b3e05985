package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stolik/internal/config"
	"stolik/internal/models"
	"stolik/internal/service"

	"github.com/rs/zerolog"
)

// BookingService is the lifecycle API the HTTP layer drives.
type BookingService interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	QueryBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	EditBooking(ctx context.Context, id int64, in service.EditBookingInput) (*models.Booking, error)
	MarkArrival(ctx context.Context, id int64) (*models.Booking, error)
	DeleteBooking(ctx context.Context, id int64) error
}

// Pinger reports whether a dependency is ready to serve.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the booking lifecycle over JSON.
type HTTPServer struct {
	cfg      *config.APIConfig
	bookings BookingService
	ready    Pinger
	location *time.Location
	server   *http.Server
	logger   *zerolog.Logger
}

// NewHTTPServer builds the router. Zone-less datetimes in query strings are
// read in loc.
func NewHTTPServer(cfg *config.APIConfig, bookings BookingService, ready Pinger, loc *time.Location, logger *zerolog.Logger) *HTTPServer {
	if loc == nil {
		loc = time.UTC
	}
	srv := &HTTPServer{cfg: cfg, bookings: bookings, ready: ready, location: loc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bookings", srv.handleCreate)
	mux.HandleFunc("GET /bookings", srv.handleQuery)
	mux.HandleFunc("GET /bookings/{id}", srv.handleGet)
	mux.HandleFunc("PUT /bookings/{id}", srv.handleUpdate)
	mux.HandleFunc("DELETE /bookings/{id}", srv.handleDelete)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	handler := Chain(mux,
		loggingMiddleware(logger),
		recoverMiddleware,
		corsMiddleware,
		newRateLimiter(cfg.RateLimit).Wrap,
	)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
			writeProblem(w, http.StatusServiceUnavailable, "not_ready", "storage is not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// problem is the error body returned by every failing endpoint.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, statusCode int, kind, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   kind,
		Title:  http.StatusText(statusCode),
		Status: statusCode,
		Detail: detail,
	})
}
