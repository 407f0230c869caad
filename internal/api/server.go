package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/turfweather/internal/ingest"
	"github.com/lox/turfweather/internal/store"
)

var validate = validator.New()

type Server struct {
	service    *ingest.Service
	scheduler  *ingest.Scheduler
	store      *store.Store
	port       string
	corsOrigin string
}

func NewServer(service *ingest.Service, scheduler *ingest.Scheduler, st *store.Store, port, corsOrigin string) *Server {
	return &Server{
		service:    service,
		scheduler:  scheduler,
		store:      st,
		port:       port,
		corsOrigin: corsOrigin,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/fetch-forecast", s.handleFetchForecast)
	mux.HandleFunc("POST /api/fetch-hourly", s.handleFetchHourly)
	mux.HandleFunc("GET /api/daily", s.handleDaily)
	mux.HandleFunc("GET /api/daily-forecast", s.handleDailyForecast)
	mux.HandleFunc("GET /api/hourly", s.handleHourly)
	mux.HandleFunc("GET /api/series", s.handleSeries)
	mux.HandleFunc("GET /api/current", s.handleCurrent)
	mux.HandleFunc("POST /api/reset-gdd", s.handleResetGDD)
	mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("GET /api/ingest/health", s.handleIngestHealth)
	return s.cors(mux)
}

// cors allows the configured frontend origin and answers preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// badRequest marks client input errors.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }

// writeError maps ingestion errors to a status: overlapping cycles are a
// conflict, invalid input is a bad request, everything else is a server error.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var br badRequest
	var ve validator.ValidationErrors
	switch {
	case errors.Is(err, ingest.ErrCycleInProgress):
		status = http.StatusConflict
	case errors.As(err, &br), errors.As(err, &ve):
		status = http.StatusBadRequest
	default:
		log.Printf("api: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
