package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Event Grid and Call Automation event types handled by the webhook
const (
	eventSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	eventIncomingCall           = "Microsoft.Communication.IncomingCall"
	eventCallConnected          = "Microsoft.Communication.CallConnected"
	eventCallDisconnected       = "Microsoft.Communication.CallDisconnected"
	eventRecognizeCompleted     = "Microsoft.Communication.RecognizeCompleted"
	eventRecognizeFailed        = "Microsoft.Communication.RecognizeFailed"
	eventPlayCompleted          = "Microsoft.Communication.PlayCompleted"
	eventPlayFailed             = "Microsoft.Communication.PlayFailed"
)

// CallEventService is the call orchestration surface the webhook drives
type CallEventService interface {
	HandleIncomingCall(ctx context.Context, incomingCallContext, callerPhone, callerRawID string) error
	HandleCallConnected(ctx context.Context, callID string)
	HandleCallDisconnected(ctx context.Context, callID, reason string)
	HandleTranscriptReady(ctx context.Context, callID, transcript string)
	HandlePlaybackFinished(ctx context.Context, callID, operationContext string)
	HandlePlaybackFailed(ctx context.Context, callID, operationContext string)
	HandleRecognizeFailed(ctx context.Context, callID string)
	TerminateCall(ctx context.Context, callID string) error
	GetConnectionCount() int
	ActiveCalls() []*domain.CallRecord
	GetCall(callID string) *domain.CallRecord
}

// ACSWebhookHandler receives Azure Communication Services events: the Event
// Grid incoming-call subscription and the per-call automation callbacks.
type ACSWebhookHandler struct {
	service CallEventService
}

// NewACSWebhookHandler creates the webhook handler
func NewACSWebhookHandler(service CallEventService) *ACSWebhookHandler {
	return &ACSWebhookHandler{service: service}
}

// SetupACSRoutes registers the webhook endpoints
func (h *ACSWebhookHandler) SetupACSRoutes(router *mux.Router) {
	router.HandleFunc("/api/acs/incoming", h.HandleEvents).Methods("POST")
	router.HandleFunc("/api/acs/calls/events", h.HandleEvents).Methods("POST")
}

// acsEvent is the common envelope for Event Grid events (eventType) and
// Call Automation cloud events (type).
type acsEvent struct {
	EventType string                 `json:"eventType"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
}

func (e *acsEvent) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// HandleEvents processes a batch of ACS events. The Event Grid subscription
// handshake is answered inline; everything else is dispatched by event type.
// Unknown call ids are stale events and are ignored by the service layer.
// ACS delivers either an event array or a lone event object depending on the
// callback surface, so both shapes are accepted.
func (h *ACSWebhookHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Warn("unreadable acs event payload", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var events []acsEvent
	if err := json.Unmarshal(body, &events); err != nil {
		var single acsEvent
		if err := json.Unmarshal(body, &single); err != nil {
			logger.Base().Warn("malformed acs event payload", zap.Error(err))
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		events = []acsEvent{single}
	}

	for _, event := range events {
		if event.kind() == eventSubscriptionValidation {
			code, _ := event.Data["validationCode"].(string)
			logger.Base().Info("event grid subscription validation", zap.String("code", code))
			writeJSON(w, http.StatusOK, map[string]string{"validationResponse": code})
			return
		}
		h.dispatch(r.Context(), &event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *ACSWebhookHandler) dispatch(ctx context.Context, event *acsEvent) {
	kind := event.kind()
	callID, _ := event.Data["callConnectionId"].(string)
	opCtx, _ := event.Data["operationContext"].(string)

	logger.Base().Debug("acs event",
		zap.String("type", kind),
		zap.String("call_id", callID),
		zap.String("operation_context", opCtx))

	switch kind {
	case eventIncomingCall:
		h.handleIncomingCall(ctx, event)
	case eventCallConnected:
		h.service.HandleCallConnected(ctx, callID)
	case eventCallDisconnected:
		h.service.HandleCallDisconnected(ctx, callID, disconnectReason(event.Data))
	case eventRecognizeCompleted:
		h.service.HandleTranscriptReady(ctx, callID, findTranscript(event.Data, 0))
	case eventRecognizeFailed:
		h.service.HandleRecognizeFailed(ctx, callID)
	case eventPlayCompleted:
		h.service.HandlePlaybackFinished(ctx, callID, opCtx)
	case eventPlayFailed:
		h.service.HandlePlaybackFailed(ctx, callID, opCtx)
	default:
		logger.Base().Debug("unhandled acs event type", zap.String("type", kind))
	}
}

func (h *ACSWebhookHandler) handleIncomingCall(ctx context.Context, event *acsEvent) {
	incomingCallContext, _ := event.Data["incomingCallContext"].(string)
	if incomingCallContext == "" {
		logger.Base().Warn("incoming call event without call context")
		return
	}

	var callerPhone, callerRawID string
	if from, ok := event.Data["from"].(map[string]interface{}); ok {
		callerRawID, _ = from["rawId"].(string)
		if phone, ok := from["phoneNumber"].(map[string]interface{}); ok {
			callerPhone, _ = phone["value"].(string)
		}
	}

	if err := h.service.HandleIncomingCall(ctx, incomingCallContext, callerPhone, callerRawID); err != nil {
		logger.Base().Error("incoming call not answered",
			zap.String("caller", callerPhone),
			zap.Error(err))
	}
}

// disconnectReason extracts the result message when ACS includes one
func disconnectReason(data map[string]interface{}) string {
	if info, ok := data["resultInformation"].(map[string]interface{}); ok {
		if msg, ok := info["message"].(string); ok {
			return msg
		}
	}
	return ""
}

const maxTranscriptDepth = 4

// findTranscript digs the recognized text out of a RecognizeCompleted
// payload. ACS has moved the field between speechResult.speech and nested
// recognizeResult variants across api versions, so the search walks any
// speechResult/speech/text keys to a bounded depth.
func findTranscript(data map[string]interface{}, depth int) string {
	if data == nil || depth > maxTranscriptDepth {
		return ""
	}
	for _, key := range []string{"speech", "text"} {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"speechResult", "recognizeResult", "recognitionResult"} {
		if nested, ok := data[key].(map[string]interface{}); ok {
			if s := findTranscript(nested, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}
