package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/relayhelp/voice-bridge-service/internal/repository"
	"github.com/relayhelp/voice-bridge-service/internal/session"
	"github.com/relayhelp/voice-bridge-service/internal/summary"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"github.com/relayhelp/voice-bridge-service/pkg/redis"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	cfg            *config.Config
	registry       *bridge.Registry
	repoManager    repository.RepositoryManager
	sessionManager *session.Manager

	voiceWebhook *VoiceWebhookHandler
	mediaStream  *MediaStreamHandler
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.Config, registry *bridge.Registry) (*HandlerManager, error) {
	// Database is optional; without it calls still bridge, summaries are
	// only logged.
	var repoManager repository.RepositoryManager
	if cfg.DatabaseEnabled {
		var err error
		repoManager, err = repository.NewRepositoryManager()
		if err != nil {
			logger.Base().Error("failed to connect to database", zap.Error(err))
			return nil, err
		}
	}

	// Redis is optional; without it there is no cross-instance call
	// monitoring.
	var sessionManager *session.Manager
	if cfg.RedisEnabled {
		redisConfig := &redis.RedisConfig{
			Host:     config.GetEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     config.GetEnvOrDefault("REDIS_PORT", "6379"),
			Password: config.GetEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       0,
		}
		redisSvc, err := redis.NewRedisService(redisConfig)
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, running without call monitoring", zap.Error(err))
		} else {
			sessionManager = session.NewManager(redisSvc, cfg.InstanceID)
			logger.Base().Info("call monitoring initialized", zap.String("instance_id", cfg.InstanceID))
		}
	}

	summarizer := summary.NewService(cfg.OpenAIAPIKey, cfg.SummaryModel, cfg.SummaryBaseURL, repoManager)

	hm := &HandlerManager{
		cfg:            cfg,
		registry:       registry,
		repoManager:    repoManager,
		sessionManager: sessionManager,
		voiceWebhook:   NewVoiceWebhookHandler(cfg),
		mediaStream:    NewMediaStreamHandler(cfg, registry, summarizer, sessionManager),
	}

	// Another instance may ask us to drop a call we own.
	if sessionManager != nil {
		err := sessionManager.SubscribeToCleanup(context.Background(), func(callSid string) {
			if controller, ok := registry.Get(callSid); ok {
				logger.Base().Info("cleanup broadcast received, ending call",
					zap.String("call_sid", callSid))
				controller.OnStreamStop()
			}
		})
		if err != nil {
			logger.Base().Warn("cleanup subscription failed", zap.Error(err))
		}
	}

	return hm, nil
}

// SetupRoutes registers all HTTP routes
func (hm *HandlerManager) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", hm.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/call/incoming", hm.voiceWebhook.Handle).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/call/media-stream", hm.mediaStream.Handle)
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"instance_id":  hm.cfg.InstanceID,
		"active_calls": hm.registry.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.Base().Warn("health response write failed", zap.Error(err))
	}
}

// Close releases resources held by the handler manager.
func (hm *HandlerManager) Close() error {
	if hm.repoManager != nil {
		return hm.repoManager.Close()
	}
	return nil
}
