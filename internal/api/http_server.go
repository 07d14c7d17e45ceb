package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"predictapi/internal/config"
	"predictapi/internal/logging"
	"predictapi/internal/metrics"
	"predictapi/internal/models"
	"predictapi/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxPredictBodyBytes = 1 << 20

// HTTPServer serves /health, /predict and /metrics. Every request, including
// scrapes and unmatched routes, passes through the metrics middleware.
type HTTPServer struct {
	cfg       *config.Config
	registry  *metrics.Registry
	metrics   *metrics.HTTPMetrics
	predictor *service.PredictService
	limiter   *rateLimiter
	logger    *zerolog.Logger
	server    *http.Server
}

func NewHTTPServer(
	cfg *config.Config,
	registry *metrics.Registry,
	predictor *service.PredictService,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:       cfg,
		registry:  registry,
		metrics:   metrics.NewHTTPMetrics(registry, cfg.Monitoring.LatencyBuckets),
		predictor: predictor,
		limiter:   newRateLimiter(cfg.RateLimit),
		logger:    logging.Component(logger, "http"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	router.Handle("/predict", srv.limiter.Wrap(http.HandlerFunc(srv.handlePredict))).Methods(http.MethodPost)
	router.Handle("/metrics", registry.Handler()).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// recover sits innermost so the access log and the metrics both see the
	// 500 it writes.
	handler := requestIDMiddleware(srv.logger,
		metricsMiddleware(srv.metrics,
			loggingMiddleware(
				recoverMiddleware(router))))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Metrics() *metrics.HTTPMetrics {
	return s.metrics
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l until Shutdown.
func (s *HTTPServer) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("HTTP API listening")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPredictBodyBytes)

	var in models.PredictInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("decode predict body")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	writeJSON(w, http.StatusOK, models.PredictResult{Prediction: s.predictor.Predict(in)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
