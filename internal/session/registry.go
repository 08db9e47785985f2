package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/voicedesk/voicequote/pkg/logger"
	"github.com/voicedesk/voicequote/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel = "voicequote:call:cleanup"
	CallTTL        = 1 * time.Hour
)

// CallInfo is the cross-instance monitoring record for a live call.
// It lets any instance see which calls exist and which instance owns them.
type CallInfo struct {
	CallID      string    `json:"callId"`
	InstanceID  string    `json:"instanceId"`
	CallerPhone string    `json:"callerPhone"`
	StartTime   time.Time `json:"startTime"`
}

// CleanupMessage is the payload for the hangup broadcast
type CleanupMessage struct {
	CallID string `json:"callId"`
}

// Registry tracks live calls in Redis so operators can terminate a call
// through any instance, not only the one holding it in memory.
type Registry struct {
	redisSvc   redis.RedisServiceInterface
	instanceID string
}

func NewRegistry(redisSvc redis.RedisServiceInterface, instanceID string) *Registry {
	return &Registry{
		redisSvc:   redisSvc,
		instanceID: instanceID,
	}
}

// Register records a live call for monitoring
func (r *Registry) Register(ctx context.Context, info CallInfo) error {
	info.InstanceID = r.instanceID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := r.redisSvc.GenerateKey(redis.CALL_INFO, info.CallID)

	err := r.redisSvc.SetValue(ctx, key, string(data), CallTTL)
	if err == nil {
		logger.Base().Info("Call registered in Redis", zap.String("call_id", info.CallID), zap.String("instance_id", r.instanceID))
	}
	return err
}

// Unregister removes a call from monitoring
func (r *Registry) Unregister(ctx context.Context, callID string) error {
	return r.redisSvc.DelValue(ctx, r.redisSvc.GenerateKey(redis.CALL_INFO, callID))
}

// Lookup returns the registry record for a call, or nil when no instance
// holds it.
func (r *Registry) Lookup(ctx context.Context, callID string) (*CallInfo, error) {
	val, err := r.redisSvc.GetValue(ctx, r.redisSvc.GenerateKey(redis.CALL_INFO, callID))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var info CallInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// NotifyCleanup broadcasts a hangup request to all instances
func (r *Registry) NotifyCleanup(ctx context.Context, callID string) error {
	logger.Base().Info("Broadcasting call cleanup request", zap.String("call_id", callID))
	return r.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup listens for hangup broadcasts; the handler runs on the
// instance that actually holds the call.
func (r *Registry) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return r.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
