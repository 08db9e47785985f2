package call

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/dialogue"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/llm"
	"github.com/voicedesk/voicequote/internal/store"
	"github.com/voicedesk/voicequote/internal/telephony"
)

type spokenLine struct {
	Text string
	Tag  string
}

// fakeGateway records telephony operations instead of calling out
type fakeGateway struct {
	mu      sync.Mutex
	callID  string
	spoken  []spokenLine
	listens []string
	hangups []string
}

func (g *fakeGateway) Answer(context.Context, string) (string, error) {
	if g.callID == "" {
		g.callID = "call-1"
	}
	return g.callID, nil
}

func (g *fakeGateway) Speak(_ context.Context, _ string, text, tag string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spoken = append(g.spoken, spokenLine{Text: text, Tag: tag})
	return nil
}

func (g *fakeGateway) Listen(_ context.Context, _ string, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listens = append(g.listens, target)
	return nil
}

func (g *fakeGateway) Hangup(_ context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hangups = append(g.hangups, callID)
	return nil
}

func (g *fakeGateway) lastSpoken() spokenLine {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.spoken) == 0 {
		return spokenLine{}
	}
	return g.spoken[len(g.spoken)-1]
}

func (g *fakeGateway) listenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.listens)
}

// scriptedModel drives the dialogue with canned answers per call
type scriptedModel struct {
	behavior domain.Behavior
	update   *llm.Update
}

func (m *scriptedModel) Classify(context.Context, string, []domain.Message, bool, bool) (domain.Behavior, error) {
	return m.behavior, nil
}

func (m *scriptedModel) Extract(context.Context, []domain.Message, domain.ExtractedFields, []string) (*llm.Update, error) {
	return m.update, nil
}

func (m *scriptedModel) Confirm(context.Context, string, []domain.Message, bool) (bool, error) {
	return false, nil
}

func (m *scriptedModel) RecapFields(context.Context, string, []domain.Message) ([]string, error) {
	return nil, nil
}

func (m *scriptedModel) Answer(context.Context, string, []domain.Message) (string, error) {
	return "We quote solar equipment over the phone.", nil
}

type stubCRM struct{}

func (stubCRM) FindOrCreateAccount(context.Context, string, string) (string, error) {
	return "acct-1", nil
}

func (stubCRM) FindOrCreateContact(context.Context, string, string, string) (string, error) {
	return "cont-1", nil
}

func (stubCRM) ListActiveProducts(context.Context) ([]domain.Product, error) {
	return []domain.Product{{ID: "p1", Name: "Solar Panel 450W"}}, nil
}

func (stubCRM) CreateQuote(context.Context, crm.QuoteRequest) (*crm.QuoteResult, error) {
	return &crm.QuoteResult{QuoteID: "quote-1", QuoteNumber: "Q-00001"}, nil
}

func newTestService(model llm.LanguageModel) (*Service, *fakeGateway, *store.CallStore) {
	cfg := &config.Config{
		GreetingText:   "Hello, thanks for calling.",
		MaxConnections: 5,
	}
	calls := store.NewCallStore()
	gateway := &fakeGateway{}
	backend := stubCRM{}
	controller := dialogue.NewController(calls, model,
		dialogue.NewExtractor(model, backend),
		dialogue.NewFinalizer(backend, nil), nil)
	svc := NewService(cfg, calls, gateway, controller, nil, nil)
	return svc, gateway, calls
}

func TestCallLifecycle(t *testing.T) {
	name := "Ann Lee"
	model := &scriptedModel{
		behavior: domain.BehaviorQuoteRequest,
		update:   &llm.Update{CustomerName: &name},
	}
	svc, gateway, calls := newTestService(model)
	ctx := context.Background()

	require.NoError(t, svc.HandleIncomingCall(ctx, "ctx-token", "+15550100", "4:+15550100"))
	require.NotNil(t, calls.Get("call-1"))

	svc.HandleCallConnected(ctx, "call-1")
	greeting := gateway.lastSpoken()
	assert.Equal(t, "Hello, thanks for calling.", greeting.Text)
	assert.Equal(t, telephony.TagGreeting, greeting.Tag)

	svc.HandlePlaybackFinished(ctx, "call-1", telephony.TagGreeting)
	assert.Equal(t, 1, gateway.listenCount())
	assert.Equal(t, "+15550100", gateway.listens[0])

	svc.HandleTranscriptReady(ctx, "call-1", "I'd like a quote, my name is Ann Lee")
	reply := gateway.lastSpoken()
	assert.Equal(t, telephony.TagAnswer, reply.Tag)
	assert.NotEmpty(t, reply.Text)
	rec := calls.Get("call-1")
	require.NotNil(t, rec.Quote)
	assert.Equal(t, "Ann Lee", rec.Quote.Extracted.CustomerName)

	svc.HandlePlaybackFinished(ctx, "call-1", telephony.TagAnswer)
	assert.Equal(t, 2, gateway.listenCount())

	svc.HandleCallDisconnected(ctx, "call-1", "caller_hangup")
	assert.Nil(t, calls.Get("call-1"))
	assert.Zero(t, svc.GetConnectionCount())
}

func TestIncomingCallRejectedAtCapacity(t *testing.T) {
	svc, _, calls := newTestService(&scriptedModel{behavior: domain.BehaviorGeneralQA})
	svc.cfg.MaxConnections = 1
	calls.Create("existing", "+15550111", "")

	err := svc.HandleIncomingCall(context.Background(), "ctx-token", "+15550100", "")

	assert.Error(t, err)
	assert.Nil(t, calls.Get("call-1"))
}

func TestStaleEventsAreIgnored(t *testing.T) {
	svc, gateway, _ := newTestService(&scriptedModel{behavior: domain.BehaviorGeneralQA})
	ctx := context.Background()

	svc.HandleCallConnected(ctx, "ghost")
	svc.HandleTranscriptReady(ctx, "ghost", "hello?")
	svc.HandlePlaybackFinished(ctx, "ghost", telephony.TagAnswer)
	svc.HandleCallDisconnected(ctx, "ghost", "")
	svc.HandleRecognizeFailed(ctx, "ghost")

	assert.Empty(t, gateway.spoken)
	assert.Zero(t, gateway.listenCount())
}

func TestErrorPlaybackDoesNotReopenMicrophone(t *testing.T) {
	svc, gateway, calls := newTestService(&scriptedModel{behavior: domain.BehaviorGeneralQA})
	calls.Create("call-1", "+15550100", "")
	ctx := context.Background()

	svc.HandlePlaybackFinished(ctx, "call-1", telephony.TagError)
	svc.HandlePlaybackFailed(ctx, "call-1", telephony.TagError)
	assert.Zero(t, gateway.listenCount())

	svc.HandlePlaybackFailed(ctx, "call-1", telephony.TagAnswer)
	assert.Equal(t, 1, gateway.listenCount())
}

func TestRecognizeFailurePromptsCaller(t *testing.T) {
	svc, gateway, calls := newTestService(&scriptedModel{behavior: domain.BehaviorGeneralQA})
	calls.Create("call-1", "+15550100", "")

	svc.HandleRecognizeFailed(context.Background(), "call-1")

	line := gateway.lastSpoken()
	assert.Equal(t, noInputPrompt, line.Text)
	assert.Equal(t, telephony.TagAnswer, line.Tag)
}

func TestTerminateUnknownCall(t *testing.T) {
	svc, _, _ := newTestService(&scriptedModel{behavior: domain.BehaviorGeneralQA})
	assert.Error(t, svc.TerminateCall(context.Background(), "ghost"))
}
