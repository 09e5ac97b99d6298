// Package session keeps a redis-backed view of which calls are live on which
// instance. It is monitoring metadata only; the in-process bridge registry
// remains the authority for call lookup.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"github.com/relayhelp/voice-bridge-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel = "voicebridge:call:cleanup"
	CallKeyPrefix  = "voicebridge:call:info"
	CallTTL        = 1 * time.Hour
)

// CallInfo is the monitoring record for one live call.
type CallInfo struct {
	CallSid    string    `json:"callSid"`
	InstanceID string    `json:"instanceId"`
	StartTime  time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcast
type CleanupMessage struct {
	CallSid string `json:"callSid"`
}

type Manager struct {
	redisSvc   redis.RedisServiceInterface
	instanceID string
}

func NewManager(redisSvc redis.RedisServiceInterface, instanceID string) *Manager {
	return &Manager{
		redisSvc:   redisSvc,
		instanceID: instanceID,
	}
}

// Register records a live call for monitoring
func (m *Manager) Register(ctx context.Context, info CallInfo) error {
	info.InstanceID = m.instanceID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, info.CallSid)

	err := m.redisSvc.SetValue(ctx, key, string(data), CallTTL)
	if err == nil {
		logger.Base().Info("Call registered in Redis",
			zap.String("call_sid", info.CallSid), zap.String("instance_id", m.instanceID))
	}
	return err
}

// Unregister removes a call from monitoring
func (m *Manager) Unregister(ctx context.Context, callSid string) error {
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, callSid)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a cleanup request to all instances
func (m *Manager) NotifyCleanup(ctx context.Context, callSid string) error {
	logger.Base().Info("Broadcasting cleanup request", zap.String("call_sid", callSid))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallSid: callSid})
}

// SubscribeToCleanup listens for cleanup broadcasts
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callSid string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallSid)
	})
}

// CallStarted implements the bridge monitor hook.
func (m *Manager) CallStarted(callSid string) {
	if err := m.Register(context.Background(), CallInfo{CallSid: callSid}); err != nil {
		logger.Base().Warn("call monitoring registration failed",
			zap.String("call_sid", callSid), zap.Error(err))
	}
}

// CallEnded implements the bridge monitor hook.
func (m *Manager) CallEnded(callSid string) {
	if err := m.Unregister(context.Background(), callSid); err != nil {
		logger.Base().Warn("call monitoring unregistration failed",
			zap.String("call_sid", callSid), zap.Error(err))
	}
}
