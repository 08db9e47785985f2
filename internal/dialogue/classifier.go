package dialogue

import (
	"context"
	"regexp"
	"strings"

	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/llm"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Classifier wraps the language model intent call with the fallback policy:
// any failure becomes general_qa so the call never stalls on a model error.
type Classifier struct {
	model llm.LanguageModel
}

// NewClassifier creates a classifier backed by the given language model
func NewClassifier(model llm.LanguageModel) *Classifier {
	return &Classifier{model: model}
}

// Classify buckets the utterance, falling back to general_qa on any failure
func (c *Classifier) Classify(ctx context.Context, utterance string, history []domain.Message, hasQuote, quoteComplete bool) domain.Behavior {
	behavior, err := c.model.Classify(ctx, utterance, history, hasQuote, quoteComplete)
	if err != nil {
		logger.Base().Warn("behavior classification failed, falling back to general_qa",
			zap.Error(err))
		return domain.BehaviorGeneralQA
	}
	if !behavior.Valid() {
		logger.Base().Warn("unrecognized behavior category, falling back to general_qa",
			zap.String("behavior", string(behavior)))
		return domain.BehaviorGeneralQA
	}
	return behavior
}

var nonWordRe = regexp.MustCompile(`[^a-z\s]+`)

// IsExplicitYes reports whether the utterance is a bare confirmation.
// This deterministic fast path skips the model entirely: "Yes.", " CONFIRM "
// and the like short-circuit straight to submission.
func IsExplicitYes(utterance string) bool {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	normalized = nonWordRe.ReplaceAllString(normalized, "")
	normalized = strings.Join(strings.Fields(normalized), " ")
	switch normalized {
	case "yes", "confirm", "yes confirm", "yes please":
		return true
	}
	return false
}
