package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/session"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// CallHandler exposes the live-call management API
type CallHandler struct {
	service  CallEventService
	registry *session.Registry
}

// NewCallHandler creates the management handler; registry may be nil
func NewCallHandler(service CallEventService, registry *session.Registry) *CallHandler {
	return &CallHandler{service: service, registry: registry}
}

// SetupCallRoutes registers the management endpoints. Paths are relative to
// the authenticated /api/acs subrouter.
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/calls", h.ListCalls).Methods("GET")
	router.HandleFunc("/calls/{callId}", h.GetCall).Methods("GET")
	router.HandleFunc("/calls/{callId}", h.TerminateCall).Methods("DELETE")
}

// callSummary is the list representation of a live call
type callSummary struct {
	CallID     string    `json:"call_id"`
	Caller     string    `json:"caller"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	Turns      int       `json:"turns"`
	HasQuote   bool      `json:"has_quote"`
	QuoteReady bool      `json:"quote_ready"`
}

func summarize(rec *domain.CallRecord) callSummary {
	return callSummary{
		CallID:     rec.CallID,
		Caller:     rec.CallerTarget(),
		Status:     string(rec.Status),
		StartedAt:  rec.StartedAt,
		Turns:      len(rec.History),
		HasQuote:   rec.Quote != nil,
		QuoteReady: rec.Quote != nil && rec.Quote.IsComplete,
	}
}

// ListCalls returns all live calls on this instance
func (h *CallHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	records := h.service.ActiveCalls()
	summaries := make([]callSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(summaries),
		"calls": summaries,
	})
}

// GetCall returns the full snapshot of one live call
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]
	rec := h.service.GetCall(callID)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TerminateCall hangs up a live call. When the call is not held by this
// instance the hangup request is broadcast so the owning instance picks it up.
func (h *CallHandler) TerminateCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	if h.service.GetCall(callID) == nil {
		if h.registry == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
			return
		}
		info, err := h.registry.Lookup(r.Context(), callID)
		if err != nil {
			logger.Base().Error("call registry lookup failed", zap.String("call_id", callID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registry lookup failed"})
			return
		}
		if info == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
			return
		}
		if err := h.registry.NotifyCleanup(r.Context(), callID); err != nil {
			logger.Base().Error("cleanup broadcast failed", zap.String("call_id", callID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup broadcast failed"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":      "cleanup requested",
			"instance_id": info.InstanceID,
		})
		return
	}

	if err := h.service.TerminateCall(r.Context(), callID); err != nil {
		logger.Base().Error("terminate call failed", zap.String("call_id", callID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminating"})
}
