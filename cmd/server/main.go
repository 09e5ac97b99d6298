package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/relayhelp/voice-bridge-service/internal/handler"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
)

// Server represents the voice bridge server
type Server struct {
	config         *config.Config
	router         *mux.Router
	registry       *bridge.Registry
	handlerManager *handler.HandlerManager
}

// NewServer creates a new voice bridge server
func NewServer(cfg *config.Config) (*Server, error) {
	router := mux.NewRouter()
	registry := bridge.NewRegistry()

	handlerManager, err := handler.NewHandlerManager(cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handler manager: %w", err)
	}

	handlerManager.SetupRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		registry:       registry,
		handlerManager: handlerManager,
	}, nil
}

// Start runs the HTTP server until the process is signalled, then shuts
// down gracefully.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server",
			zap.String("addr", addr),
			zap.String("instance_id", s.config.InstanceID))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Base().Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End active calls so their summaries get a chance to run.
	for _, callSid := range s.registry.ActiveCallSids() {
		if controller, ok := s.registry.Get(callSid); ok {
			controller.OnStreamStop()
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Base().Warn("server shutdown", zap.Error(err))
	}
	return s.handlerManager.Close()
}

func main() {
	// Load .env for local development; ignore absence in production.
	_ = godotenv.Load()

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}
	defer logger.Sync()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Base().Fatal("invalid configuration", zap.Error(err))
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Base().Fatal("failed to start", zap.Error(err))
	}

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		logger.Base().Fatal("server exited", zap.Error(err))
	}
}
