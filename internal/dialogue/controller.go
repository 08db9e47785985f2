package dialogue

import (
	"context"

	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/llm"
	"github.com/voicedesk/voicequote/internal/store"
	"github.com/voicedesk/voicequote/internal/telephony"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Action is what the call layer should do after a caller turn: speak the
// reply (tagged so playback completion can be routed), or just re-open the
// microphone when there is nothing to say.
type Action struct {
	Say      string
	Tag      string
	Relisten bool
}

// SubmissionRecorder persists a successful quote submission for auditing.
// Implementations must not block the call on persistence failures.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, callID string, result *crm.QuoteResult, fields domain.ExtractedFields, emailSent bool)
}

// Controller decides what happens after each recognized utterance. It owns
// the conversation flow: classification, extraction, recall, confirmation
// and final submission, in that priority order.
type Controller struct {
	store      *store.CallStore
	model      llm.LanguageModel
	classifier *Classifier
	extractor  *Extractor
	finalizer  *Finalizer
	recorder   SubmissionRecorder
}

// NewController wires the dialogue flow; recorder may be nil
func NewController(calls *store.CallStore, model llm.LanguageModel, extractor *Extractor, finalizer *Finalizer, recorder SubmissionRecorder) *Controller {
	return &Controller{
		store:      calls,
		model:      model,
		classifier: NewClassifier(model),
		extractor:  extractor,
		finalizer:  finalizer,
		recorder:   recorder,
	}
}

// HandleTranscript processes one recognized utterance for a call and returns
// the action to take. An empty transcript re-opens recognition without a
// reply; an unknown call id is a stale event and produces no action.
func (c *Controller) HandleTranscript(ctx context.Context, callID, transcript string) Action {
	rec := c.store.Get(callID)
	if rec == nil {
		logger.Base().Warn("transcript for unknown call", zap.String("call_id", callID))
		return Action{}
	}

	if !c.store.AppendMessage(callID, domain.RoleUser, transcript) {
		if c.store.Get(callID) == nil {
			return Action{}
		}
		// duplicate or empty turn: listen again without replying
		return Action{Relisten: true}
	}

	snapshot := c.store.Get(callID)
	if snapshot == nil {
		return Action{}
	}

	reply := c.respond(ctx, callID, transcript, snapshot)
	if reply == "" {
		return Action{Relisten: true}
	}

	c.store.AppendMessage(callID, domain.RoleAssistant, reply)
	if c.store.Get(callID) == nil {
		return Action{}
	}
	return Action{Say: reply, Tag: telephony.TagAnswer}
}

// respond picks the branch for this turn. Confirmation is checked before
// anything else once the quote is complete, recall is answered from state
// without re-extraction, and only quote or modification intents trigger an
// extraction pass.
func (c *Controller) respond(ctx context.Context, callID, transcript string, snapshot *domain.CallRecord) string {
	quote := snapshot.Quote

	if quote != nil && quote.IsComplete {
		confirmed := IsExplicitYes(transcript)
		if !confirmed {
			var err error
			confirmed, err = c.model.Confirm(ctx, transcript, snapshot.History, true)
			if err != nil {
				logger.Base().Warn("confirmation check failed", zap.Error(err))
				confirmed = false
			}
		}
		if confirmed {
			return c.submitQuote(ctx, callID)
		}
	}

	behavior := c.classifier.Classify(ctx, transcript, snapshot.History, quote != nil, quote != nil && quote.IsComplete)

	switch {
	case quote != nil && behavior == domain.BehaviorRecallQuote:
		return c.recall(ctx, transcript, snapshot)
	case quote != nil && quote.IsComplete && behavior != domain.BehaviorModifyQuote:
		// declined or off-track while awaiting confirmation: re-state the
		// recap instead of burning an extraction pass
		return recapPrompt(quote.Extracted)
	case behavior == domain.BehaviorQuoteRequest || behavior == domain.BehaviorModifyQuote:
		return c.extract(ctx, callID, snapshot)
	default:
		return c.answer(ctx, transcript, snapshot)
	}
}

// extract runs an extraction pass on a snapshot and commits the new state
// under the per-call lock. If the call vanished meanwhile the result is
// discarded.
func (c *Controller) extract(ctx context.Context, callID string, snapshot *domain.CallRecord) string {
	next := c.extractor.Run(ctx, snapshot.History, snapshot.Quote)
	committed := c.store.WithCall(callID, func(rec *domain.CallRecord) {
		rec.Quote = next
	})
	if !committed {
		return ""
	}
	return acknowledgeAndPrompt(next)
}

// recall answers questions about already-captured fields from state alone
func (c *Controller) recall(ctx context.Context, transcript string, snapshot *domain.CallRecord) string {
	requested, err := c.model.RecapFields(ctx, transcript, snapshot.History)
	if err != nil {
		logger.Base().Warn("recall field selection failed", zap.Error(err))
		requested = nil
	}
	reply := recallReply(snapshot.Quote.Extracted, requested)
	if !snapshot.Quote.IsComplete {
		reply += " " + nextFieldPrompt(snapshot.Quote.MissingFields)
	} else {
		reply += " Shall I submit the quote?"
	}
	return reply
}

// answer handles small talk and product questions via the model
func (c *Controller) answer(ctx context.Context, transcript string, snapshot *domain.CallRecord) string {
	reply, err := c.model.Answer(ctx, transcript, snapshot.History)
	if err != nil || reply == "" {
		if err != nil {
			logger.Base().Warn("general answer failed", zap.Error(err))
		}
		return answerFallbackReply
	}
	return reply
}

// submitQuote consumes the one-shot confirmation token under the per-call
// lock, so that two confirmations racing each other submit exactly once.
// On CRM failure the token is restored and the caller can confirm again.
func (c *Controller) submitQuote(ctx context.Context, callID string) string {
	var (
		nonce  string
		fields domain.ExtractedFields
	)
	alive := c.store.WithCall(callID, func(rec *domain.CallRecord) {
		if rec.Quote == nil || !rec.Quote.IsComplete || rec.Quote.ConfirmNonce == "" {
			return
		}
		nonce = rec.Quote.ConfirmNonce
		rec.Quote.ConfirmNonce = ""
		fields = rec.Quote.Extracted
		fields.QuoteItems = append([]domain.QuoteItem(nil), rec.Quote.Extracted.QuoteItems...)
	})
	if !alive {
		return ""
	}
	if nonce == "" {
		return submitInFlightReply
	}

	result, emailSent, err := c.finalizer.Finalize(ctx, fields)
	if err != nil {
		logger.Base().Error("quote submission failed",
			zap.String("call_id", callID),
			zap.Error(err))
		c.store.WithCall(callID, func(rec *domain.CallRecord) {
			if rec.Quote != nil {
				rec.Quote.ConfirmNonce = nonce
			}
		})
		return submitFailedReply
	}

	c.store.WithCall(callID, func(rec *domain.CallRecord) {
		rec.Quote = nil
	})
	logger.Base().Info("quote submitted",
		zap.String("call_id", callID),
		zap.String("quote_id", result.QuoteID),
		zap.String("quote_number", result.QuoteNumber),
		zap.Bool("email_sent", emailSent))
	if c.recorder != nil {
		c.recorder.RecordSubmission(ctx, callID, result, fields, emailSent)
	}
	return submittedReply(result.QuoteNumber, emailSent)
}
