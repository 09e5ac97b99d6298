package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestMediaStreamRejectsWhenAtCapacity(t *testing.T) {
	cfg := &config.Config{MaxConcurrentCalls: 0, UpgradesPerSecond: 100}
	h := NewMediaStreamHandler(cfg, bridge.NewRegistry(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/call/media-stream", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMediaStreamRateLimitsUpgrades(t *testing.T) {
	cfg := &config.Config{MaxConcurrentCalls: 10, UpgradesPerSecond: 0}
	h := NewMediaStreamHandler(cfg, bridge.NewRegistry(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/call/media-stream", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMediaStreamRejectsPlainHTTP(t *testing.T) {
	cfg := &config.Config{MaxConcurrentCalls: 10, UpgradesPerSecond: 100}
	h := NewMediaStreamHandler(cfg, bridge.NewRegistry(), nil, nil)

	// No websocket upgrade headers; the upgrader must refuse.
	req := httptest.NewRequest(http.MethodGet, "/call/media-stream", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
