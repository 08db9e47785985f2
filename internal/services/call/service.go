package call

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/dialogue"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/repository"
	"github.com/voicedesk/voicequote/internal/session"
	"github.com/voicedesk/voicequote/internal/store"
	"github.com/voicedesk/voicequote/internal/telephony"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

const (
	noInputPrompt    = "Sorry, I didn't hear anything. Could you repeat that?"
	troublePrompt    = "I'm sorry, I'm having trouble right now. Please try again."
	persistTimeout   = 5 * time.Second
	defaultEndReason = "caller_hangup"
)

// Service orchestrates the call lifecycle: answering, greeting, the
// listen/reply loop, and teardown with audit persistence. All handlers are
// safe to invoke concurrently and tolerate stale events for calls that have
// already ended.
type Service struct {
	cfg        *config.Config
	store      *store.CallStore
	gateway    telephony.Gateway
	controller *dialogue.Controller
	registry   *session.Registry
	repos      repository.RepositoryManager
}

// NewService wires the call orchestrator; registry and repos may be nil
func NewService(cfg *config.Config, calls *store.CallStore, gateway telephony.Gateway, controller *dialogue.Controller, registry *session.Registry, repos repository.RepositoryManager) *Service {
	return &Service{
		cfg:        cfg,
		store:      calls,
		gateway:    gateway,
		controller: controller,
		registry:   registry,
		repos:      repos,
	}
}

// SetController attaches the dialogue controller. The controller needs the
// service as its submission recorder, so wiring happens in two steps during
// startup, before any webhook traffic arrives.
func (s *Service) SetController(controller *dialogue.Controller) {
	s.controller = controller
}

// HandleIncomingCall answers an inbound call unless the instance is at
// capacity, then registers the new call for tracking.
func (s *Service) HandleIncomingCall(ctx context.Context, incomingCallContext, callerPhone, callerRawID string) error {
	if s.store.Count() >= s.cfg.MaxConnections {
		logger.Base().Warn("rejecting call, at capacity",
			zap.Int("active_calls", s.store.Count()),
			zap.Int("max_connections", s.cfg.MaxConnections))
		return fmt.Errorf("at capacity (%d active calls)", s.store.Count())
	}

	callID, err := s.gateway.Answer(ctx, incomingCallContext)
	if err != nil {
		return fmt.Errorf("answer call: %w", err)
	}

	if !s.store.Create(callID, callerPhone, callerRawID) {
		// duplicate IncomingCall delivery; the first one owns the call
		return nil
	}
	logger.Base().Info("call answered",
		zap.String("call_id", callID),
		zap.String("caller", callerPhone))

	if s.registry != nil {
		if err := s.registry.Register(ctx, session.CallInfo{CallID: callID, CallerPhone: callerPhone}); err != nil {
			logger.Base().Warn("call registry update failed", zap.Error(err))
		}
	}
	return nil
}

// HandleCallConnected marks the media path live and speaks the greeting.
// Recognition starts when greeting playback completes.
func (s *Service) HandleCallConnected(ctx context.Context, callID string) {
	if !s.store.MarkConnected(callID) {
		logger.Base().Warn("connected event for unknown call", zap.String("call_id", callID))
		return
	}
	if err := s.gateway.Speak(ctx, callID, s.cfg.GreetingText, telephony.TagGreeting); err != nil {
		logger.Base().Error("greeting playback failed", zap.String("call_id", callID), zap.Error(err))
	}
}

// HandleCallDisconnected tears down call state and persists the audit log.
// Safe to call for calls this instance never saw.
func (s *Service) HandleCallDisconnected(ctx context.Context, callID, reason string) {
	rec := s.store.Remove(callID)
	if rec == nil {
		return
	}
	logger.Base().Info("call ended",
		zap.String("call_id", callID),
		zap.Int("turns", len(rec.History)))

	if s.registry != nil {
		if err := s.registry.Unregister(ctx, callID); err != nil {
			logger.Base().Warn("call registry cleanup failed", zap.Error(err))
		}
	}
	s.persistCallLog(rec, reason)
}

// HandleTranscriptReady runs one dialogue turn and executes the resulting
// action on the telephony leg.
func (s *Service) HandleTranscriptReady(ctx context.Context, callID, transcript string) {
	action := s.controller.HandleTranscript(ctx, callID, transcript)

	switch {
	case action.Say != "":
		if err := s.gateway.Speak(ctx, callID, action.Say, action.Tag); err != nil {
			logger.Base().Error("reply playback failed", zap.String("call_id", callID), zap.Error(err))
			s.listen(ctx, callID)
		}
	case action.Relisten:
		s.listen(ctx, callID)
	}
}

// HandlePlaybackFinished resumes recognition after the greeting or a reply.
// Error announcements do not re-open the microphone, which keeps a failing
// call from looping forever.
func (s *Service) HandlePlaybackFinished(ctx context.Context, callID, operationContext string) {
	switch operationContext {
	case telephony.TagGreeting, telephony.TagAnswer:
		s.listen(ctx, callID)
	case telephony.TagError:
		// terminal announcement, wait for the caller or the hangup
	default:
		logger.Base().Debug("playback finished with unknown context",
			zap.String("call_id", callID),
			zap.String("operation_context", operationContext))
	}
}

// HandlePlaybackFailed keeps the call alive after a failed non-error playback
func (s *Service) HandlePlaybackFailed(ctx context.Context, callID, operationContext string) {
	logger.Base().Warn("playback failed",
		zap.String("call_id", callID),
		zap.String("operation_context", operationContext))
	if operationContext != telephony.TagError {
		s.listen(ctx, callID)
	}
}

// HandleRecognizeFailed nudges the caller after silence or a recognition error
func (s *Service) HandleRecognizeFailed(ctx context.Context, callID string) {
	if s.store.Get(callID) == nil {
		return
	}
	if err := s.gateway.Speak(ctx, callID, noInputPrompt, telephony.TagAnswer); err != nil {
		logger.Base().Error("no-input prompt failed", zap.String("call_id", callID), zap.Error(err))
	}
}

// TerminateCall hangs up a live call, for the management API and for
// cross-instance cleanup broadcasts.
func (s *Service) TerminateCall(ctx context.Context, callID string) error {
	if s.store.Get(callID) == nil {
		return fmt.Errorf("call %s not found", callID)
	}
	if err := s.gateway.Hangup(ctx, callID); err != nil {
		return fmt.Errorf("hang up call: %w", err)
	}
	// the disconnect webhook performs the actual teardown; force it if the
	// event never arrives
	go func() {
		time.Sleep(10 * time.Second)
		bg, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		s.HandleCallDisconnected(bg, callID, "operator_terminated")
	}()
	return nil
}

// GetConnectionCount returns the number of live calls on this instance
func (s *Service) GetConnectionCount() int {
	return s.store.Count()
}

// ActiveCalls returns snapshots of all live calls on this instance
func (s *Service) ActiveCalls() []*domain.CallRecord {
	return s.store.ActiveCalls()
}

// GetCall returns a snapshot of one live call, or nil
func (s *Service) GetCall(callID string) *domain.CallRecord {
	return s.store.Get(callID)
}

// RecordSubmission persists a successful quote push asynchronously so the
// caller never waits on the database.
func (s *Service) RecordSubmission(_ context.Context, callID string, result *crm.QuoteResult, fields domain.ExtractedFields, emailSent bool) {
	if s.repos == nil {
		return
	}
	items, _ := json.Marshal(fields.QuoteItems)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		err := s.repos.QuoteSubmissions().Create(ctx, &domain.QuoteSubmission{
			CallID:       callID,
			QuoteID:      result.QuoteID,
			QuoteNumber:  result.QuoteNumber,
			CustomerName: fields.CustomerName,
			ContactInfo:  fields.ContactInfo,
			ItemsJSON:    string(items),
			EmailSent:    emailSent,
		})
		if err != nil {
			logger.Base().Error("quote submission audit write failed",
				zap.String("call_id", callID),
				zap.Error(err))
		}
	}()
}

func (s *Service) listen(ctx context.Context, callID string) {
	rec := s.store.Get(callID)
	if rec == nil {
		return
	}
	if err := s.gateway.Listen(ctx, callID, rec.CallerTarget()); err != nil {
		logger.Base().Error("start recognition failed", zap.String("call_id", callID), zap.Error(err))
		if speakErr := s.gateway.Speak(ctx, callID, troublePrompt, telephony.TagError); speakErr != nil {
			logger.Base().Error("trouble prompt failed", zap.String("call_id", callID), zap.Error(speakErr))
		}
	}
}

// persistCallLog writes the end-of-call audit record off the event path
func (s *Service) persistCallLog(rec *domain.CallRecord, reason string) {
	if s.repos == nil {
		return
	}
	if reason == "" {
		reason = defaultEndReason
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		quoteCreated := false
		if subs, err := s.repos.QuoteSubmissions().GetByCallID(ctx, rec.CallID); err == nil && len(subs) > 0 {
			quoteCreated = true
		}
		err := s.repos.CallLogs().Create(ctx, &domain.CallLog{
			CallID:       rec.CallID,
			CallerPhone:  rec.CallerPhone,
			Status:       string(rec.Status),
			Transcript:   renderTranscript(rec.History),
			QuoteCreated: quoteCreated,
			EndReason:    reason,
			StartedAt:    rec.StartedAt,
			EndedAt:      time.Now(),
		})
		if err != nil {
			logger.Base().Error("call log write failed",
				zap.String("call_id", rec.CallID),
				zap.Error(err))
		}
	}()
}

func renderTranscript(history []domain.Message) string {
	var sb strings.Builder
	for _, msg := range history {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
