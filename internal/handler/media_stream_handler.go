package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/relayhelp/voice-bridge-service/internal/aisession"
	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/relayhelp/voice-bridge-service/internal/session"
	"github.com/relayhelp/voice-bridge-service/internal/telephony"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MediaStreamHandler upgrades Twilio media-stream connections and wires up
// one bridge per call: telephony adapter, realtime AI session, controller.
type MediaStreamHandler struct {
	cfg        *config.Config
	registry   *bridge.Registry
	summarizer bridge.Summarizer
	monitor    *session.Manager

	upgrader websocket.Upgrader
	limiter  *rate.Limiter
}

// NewMediaStreamHandler creates the media-stream websocket handler.
func NewMediaStreamHandler(cfg *config.Config, registry *bridge.Registry, summarizer bridge.Summarizer, monitor *session.Manager) *MediaStreamHandler {
	return &MediaStreamHandler{
		cfg:        cfg,
		registry:   registry,
		summarizer: summarizer,
		monitor:    monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.UpgradesPerSecond), int(cfg.UpgradesPerSecond)),
	}
}

// Handle upgrades the connection and runs the bridge until the stream ends.
func (h *MediaStreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if h.registry.Count() >= h.cfg.MaxConcurrentCalls {
		logger.Base().Warn("rejecting call, at capacity",
			zap.Int("active_calls", h.registry.Count()))
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Warn("media-stream upgrade failed", zap.Error(err))
		return
	}

	logger.Base().Info("media stream connected", zap.String("remote", r.RemoteAddr))

	controller := bridge.NewController(bridge.Options{
		Registry:   h.registry,
		Summarizer: h.summarizer,
		Monitor:    h.monitorOrNil(),
	})

	aiClient := aisession.NewClient(aisession.Config{
		URL:    h.cfg.RealtimeURL,
		APIKey: h.cfg.OpenAIAPIKey,
		Model:  h.cfg.RealtimeModel,
		Voice:  h.cfg.Voice,
	}, controller)

	adapter := telephony.NewAdapter(conn, controller)
	controller.Bind(adapter, aiClient)
	controller.Start()

	go aiClient.Run()

	// Blocks until the stream stops or the socket dies; the controller's
	// finalize path closes both legs.
	adapter.ReadLoop()
	<-controller.Done()
}

// monitorOrNil avoids a typed-nil interface when redis monitoring is off.
func (h *MediaStreamHandler) monitorOrNil() bridge.Monitor {
	if h.monitor == nil {
		return nil
	}
	return h.monitor
}
