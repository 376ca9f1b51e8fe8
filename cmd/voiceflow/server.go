package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/api/handlers"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/daily"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/server"
	"github.com/BaSui01/voiceflow/internal/telemetry"
	"github.com/BaSui01/voiceflow/llm/openaicompat"
	"github.com/BaSui01/voiceflow/persona"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/transport"
)

// Server wires the voiceflow components and owns the HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers

	dailyClient *daily.Client
	supervisor  *session.Supervisor

	roomHandler   *handlers.RoomHandler
	healthHandler *handlers.HealthHandler
}

// NewServer builds the full component graph from config.
func NewServer(cfg *config.Config, logger *zap.Logger, tel *telemetry.Providers) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
	}

	s.metricsCollector = metrics.NewCollector("voiceflow", logger)
	s.dailyClient = daily.NewClient(cfg.Daily, logger).WithMetrics(s.metricsCollector)

	p, err := persona.FromConfig(cfg.Persona)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve persona: %w", err)
	}

	llmProvider := openaicompat.New(openaicompat.Config{
		ProviderName: "nvidia",
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
	}, logger)

	s.supervisor = session.NewSupervisor(session.SupervisorOptions{
		Dialer:        transport.NewWSDialer(cfg.STT.SampleRate, logger),
		STT:           speech.NewRivaSTT(cfg.STT, logger),
		TTS:           speech.NewRivaTTS(cfg.TTS, logger),
		LLM:           llmProvider,
		Persona:       p,
		SessionConfig: cfg.Session,
		LLMConfig:     cfg.LLM,
		SampleRate:    cfg.STT.SampleRate,
		Metrics:       s.metricsCollector,
		Logger:        logger,
	})

	s.roomHandler = handlers.NewRoomHandler(s.dailyClient, s.supervisor, p.DisplayName, logger)
	s.healthHandler = handlers.NewHealthHandler(s.dailyClient, s.supervisor.Registry(), p, Version)

	return s, nil
}

// Start brings up the HTTP and metrics listeners without blocking.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.healthHandler.Root)
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("POST /room", s.roomHandler.Create)
	mux.HandleFunc("GET /rooms", s.roomHandler.List)
	mux.HandleFunc("DELETE /room/{name}", s.roomHandler.Delete)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a signal or server error, then drains.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and drains live sessions.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := s.supervisor.Shutdown(ctx); err != nil {
		s.logger.Error("Session drain incomplete", zap.Error(err))
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
