package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/domain"
)

// recordingService captures which lifecycle handlers the webhook invoked
type recordingService struct {
	incoming    []string
	connected   []string
	disconnects []string
	transcripts map[string]string
	playDone    map[string]string
	playFailed  map[string]string
	recFailed   []string
	calls       map[string]*domain.CallRecord
}

func newRecordingService() *recordingService {
	return &recordingService{
		transcripts: map[string]string{},
		playDone:    map[string]string{},
		playFailed:  map[string]string{},
		calls:       map[string]*domain.CallRecord{},
	}
}

func (s *recordingService) HandleIncomingCall(_ context.Context, incomingCallContext, callerPhone, _ string) error {
	s.incoming = append(s.incoming, incomingCallContext+"|"+callerPhone)
	return nil
}

func (s *recordingService) HandleCallConnected(_ context.Context, callID string) {
	s.connected = append(s.connected, callID)
}

func (s *recordingService) HandleCallDisconnected(_ context.Context, callID, reason string) {
	s.disconnects = append(s.disconnects, callID+"|"+reason)
}

func (s *recordingService) HandleTranscriptReady(_ context.Context, callID, transcript string) {
	s.transcripts[callID] = transcript
}

func (s *recordingService) HandlePlaybackFinished(_ context.Context, callID, operationContext string) {
	s.playDone[callID] = operationContext
}

func (s *recordingService) HandlePlaybackFailed(_ context.Context, callID, operationContext string) {
	s.playFailed[callID] = operationContext
}

func (s *recordingService) HandleRecognizeFailed(_ context.Context, callID string) {
	s.recFailed = append(s.recFailed, callID)
}

func (s *recordingService) TerminateCall(_ context.Context, callID string) error {
	delete(s.calls, callID)
	return nil
}

func (s *recordingService) GetConnectionCount() int { return len(s.calls) }

func (s *recordingService) ActiveCalls() []*domain.CallRecord {
	var out []*domain.CallRecord
	for _, rec := range s.calls {
		out = append(out, rec)
	}
	return out
}

func (s *recordingService) GetCall(callID string) *domain.CallRecord { return s.calls[callID] }

func postEvents(t *testing.T, h *ACSWebhookHandler, events interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(events)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/acs/calls/events", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleEvents(rr, req)
	return rr
}

func TestSubscriptionValidationHandshake(t *testing.T) {
	h := NewACSWebhookHandler(newRecordingService())

	rr := postEvents(t, h, []map[string]interface{}{{
		"eventType": eventSubscriptionValidation,
		"data":      map[string]interface{}{"validationCode": "abc-123"},
	}})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp["validationResponse"])
}

func TestIncomingCallEventDispatch(t *testing.T) {
	svc := newRecordingService()
	h := NewACSWebhookHandler(svc)

	rr := postEvents(t, h, []map[string]interface{}{{
		"eventType": eventIncomingCall,
		"data": map[string]interface{}{
			"incomingCallContext": "ctx-token",
			"from": map[string]interface{}{
				"rawId":       "4:+15550100",
				"phoneNumber": map[string]interface{}{"value": "+15550100"},
			},
		},
	}})

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, svc.incoming, 1)
	assert.Equal(t, "ctx-token|+15550100", svc.incoming[0])
}

func TestCallAutomationEventDispatch(t *testing.T) {
	svc := newRecordingService()
	h := NewACSWebhookHandler(svc)

	rr := postEvents(t, h, []map[string]interface{}{
		{
			"type": eventCallConnected,
			"data": map[string]interface{}{"callConnectionId": "call-1"},
		},
		{
			"type": eventRecognizeCompleted,
			"data": map[string]interface{}{
				"callConnectionId": "call-1",
				"speechResult":     map[string]interface{}{"speech": "I need a quote"},
			},
		},
		{
			"type": eventPlayCompleted,
			"data": map[string]interface{}{
				"callConnectionId": "call-1",
				"operationContext": "answer-tts",
			},
		},
		{
			"type": eventCallDisconnected,
			"data": map[string]interface{}{
				"callConnectionId":  "call-1",
				"resultInformation": map[string]interface{}{"message": "caller hung up"},
			},
		},
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"call-1"}, svc.connected)
	assert.Equal(t, "I need a quote", svc.transcripts["call-1"])
	assert.Equal(t, "answer-tts", svc.playDone["call-1"])
	assert.Equal(t, []string{"call-1|caller hung up"}, svc.disconnects)
}

func TestSingleEventObjectAccepted(t *testing.T) {
	svc := newRecordingService()
	h := NewACSWebhookHandler(svc)

	rr := postEvents(t, h, map[string]interface{}{
		"type": eventCallConnected,
		"data": map[string]interface{}{"callConnectionId": "call-7"},
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"call-7"}, svc.connected)
}

func TestMalformedPayloadRejected(t *testing.T) {
	h := NewACSWebhookHandler(newRecordingService())
	req := httptest.NewRequest(http.MethodPost, "/api/acs/calls/events", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()

	h.HandleEvents(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFindTranscript(t *testing.T) {
	// current shape
	assert.Equal(t, "hello", findTranscript(map[string]interface{}{
		"speechResult": map[string]interface{}{"speech": "hello"},
	}, 0))
	// older nested shape
	assert.Equal(t, "hi there", findTranscript(map[string]interface{}{
		"recognizeResult": map[string]interface{}{
			"speechResult": map[string]interface{}{"text": "hi there"},
		},
	}, 0))
	assert.Equal(t, "", findTranscript(map[string]interface{}{"confidence": 0.9}, 0))
	assert.Equal(t, "", findTranscript(nil, 0))
}
