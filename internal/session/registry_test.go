package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/pkg/redis"
)

// fakeRedisService is an in-memory RedisServiceInterface for registry tests
type fakeRedisService struct {
	values   map[string]string
	handlers map[string][]func(string)
}

func newFakeRedisService() *fakeRedisService {
	return &fakeRedisService{
		values:   map[string]string{},
		handlers: map[string][]func(string){},
	}
}

func (f *fakeRedisService) GenerateKey(keyType redis.KeyType, identifier string) string {
	return string(keyType) + ":" + identifier
}

func (f *fakeRedisService) GetValue(_ context.Context, key string) (string, error) {
	val, ok := f.values[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	return val, nil
}

func (f *fakeRedisService) SetValue(_ context.Context, key, value string, _ time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeRedisService) DelValue(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeRedisService) Publish(_ context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	for _, handler := range f.handlers[channel] {
		handler(string(payload))
	}
	return nil
}

func (f *fakeRedisService) Subscribe(_ context.Context, channel string, handler func(string)) error {
	f.handlers[channel] = append(f.handlers[channel], handler)
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	svc := newFakeRedisService()
	reg := NewRegistry(svc, "instance-a")

	err := reg.Register(context.Background(), CallInfo{
		CallID:      "call-1",
		CallerPhone: "+15550100",
	})
	require.NoError(t, err)

	info, err := reg.Lookup(context.Background(), "call-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "instance-a", info.InstanceID)
	assert.Equal(t, "+15550100", info.CallerPhone)
	assert.False(t, info.StartTime.IsZero())
}

func TestLookupUnknownCall(t *testing.T) {
	reg := NewRegistry(newFakeRedisService(), "instance-a")

	info, err := reg.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestUnregisterRemovesCall(t *testing.T) {
	svc := newFakeRedisService()
	reg := NewRegistry(svc, "instance-a")

	require.NoError(t, reg.Register(context.Background(), CallInfo{CallID: "call-1"}))
	require.NoError(t, reg.Unregister(context.Background(), "call-1"))

	info, err := reg.Lookup(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCleanupBroadcastRoundTrip(t *testing.T) {
	svc := newFakeRedisService()
	reg := NewRegistry(svc, "instance-a")

	var received []string
	require.NoError(t, reg.SubscribeToCleanup(context.Background(), func(callID string) {
		received = append(received, callID)
	}))

	require.NoError(t, reg.NotifyCleanup(context.Background(), "call-9"))
	assert.Equal(t, []string{"call-9"}, received)
}
