// Package server exposes the orchestrator's external interface over HTTP:
// ingestion endpoints (JSON and websocket streaming), the outbound
// queries (orders, VaR, stress, alerts, health) and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/orchestrator"
)

var errNoVaR = errors.New("no VaR calculated yet")

// Server is the HTTP shell around the orchestrator.
type Server struct {
	engine   *orchestrator.Engine
	metrics  *Metrics
	registry *prometheus.Registry
	log      zerolog.Logger
}

// New creates the server and registers its metrics on the given registry.
func New(engine *orchestrator.Engine, reg *prometheus.Registry, log zerolog.Logger) *Server {
	return &Server{
		engine:   engine,
		metrics:  NewMetrics(reg),
		registry: reg,
		log:      log.With().Str("component", "http_server").Logger(),
	}
}

// Metrics exposes the instrument set for the cycle driver.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest/market", s.handleIngestMarket)
		r.Post("/ingest/sentiment", s.handleIngestSentiment)
		r.Post("/ingest/predictions", s.handleIngestPredictions)
		r.Post("/portfolio", s.handleSetPortfolio)
		r.Post("/parameters", s.handleSetParameters)
		r.Post("/emergency-stop", s.handleEmergencyStop)

		r.Get("/orders", s.handleOrders)
		r.Get("/var", s.handleVaR)
		r.Get("/stress", s.handleStress)
		r.Get("/alerts", s.handleAlerts)

		r.Get("/stream", s.handleStream)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.engine.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleIngestMarket(w http.ResponseWriter, r *http.Request) {
	var sample domain.MarketSample
	if !decode(w, r, &sample) {
		return
	}
	if err := s.engine.IngestMarket(sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.metrics.IngestedSamples.Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleIngestSentiment(w http.ResponseWriter, r *http.Request) {
	var sample domain.SentimentSample
	if !decode(w, r, &sample) {
		return
	}
	if err := s.engine.IngestSentiment(sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.metrics.IngestedSamples.Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleIngestPredictions(w http.ResponseWriter, r *http.Request) {
	var predictions []domain.Prediction
	if !decode(w, r, &predictions) {
		return
	}
	if err := s.engine.IngestPredictions(predictions); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSetPortfolio(w http.ResponseWriter, r *http.Request) {
	var portfolio domain.Portfolio
	if !decode(w, r, &portfolio) {
		return
	}
	s.engine.SetPortfolio(portfolio)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var params domain.StrategyParameters
	if !decode(w, r, &params) {
		return
	}
	if err := s.engine.SetStrategyParameters(params); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.engine.ActivateEmergencyStop(body.Reason)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.OrdersOut())
}

func (s *Server) handleVaR(w http.ResponseWriter, r *http.Request) {
	res, ok := s.engine.LatestVaR()
	if !ok {
		writeError(w, http.StatusNotFound, errNoVaR)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LatestStress())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.engine.ActiveAlerts()
	s.metrics.ActiveAlerts.Set(float64(len(alerts)))
	writeJSON(w, http.StatusOK, alerts)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
