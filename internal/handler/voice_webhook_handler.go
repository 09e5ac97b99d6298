package handler

import (
	"fmt"
	"net/http"

	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// VoiceWebhookHandler answers Twilio's incoming-call webhook with TwiML that
// connects the call to our media-stream websocket.
type VoiceWebhookHandler struct {
	cfg *config.Config
}

// NewVoiceWebhookHandler creates a voice webhook handler.
func NewVoiceWebhookHandler(cfg *config.Config) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{cfg: cfg}
}

// Handle responds with <Connect><Stream> TwiML pointing at this service.
func (h *VoiceWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	host := h.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	streamURL := fmt.Sprintf("wss://%s/call/media-stream", host)

	callSid := r.FormValue("CallSid")
	logger.Base().Info("incoming call",
		zap.String("call_sid", callSid),
		zap.String("from", r.FormValue("From")),
		zap.String("stream_url", streamURL))

	say := &twiml.VoiceSay{
		Message: "Please wait while we connect your call.",
	}
	stream := &twiml.VoiceStream{
		Url: streamURL,
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}

	twimlResult, err := twiml.Voice([]twiml.Element{say, connect})
	if err != nil {
		logger.Base().Error("twiml generation failed", zap.Error(err))
		http.Error(w, "failed to build call response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	if _, err := w.Write([]byte(twimlResult)); err != nil {
		logger.Base().Warn("twiml response write failed", zap.Error(err))
	}
}
