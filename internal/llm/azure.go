package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// historyWindow is how many recent transcript turns are sent as model context
const historyWindow = 6

// AzureClient talks to an Azure OpenAI chat deployment
type AzureClient struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// NewAzureClient creates a client for the configured Azure OpenAI deployment
func NewAzureClient(cfg *config.Config) *AzureClient {
	rps := cfg.OpenAIRateLimit
	if rps <= 0 {
		rps = 5
	}
	return &AzureClient{
		endpoint:   strings.TrimRight(cfg.OpenAIEndpoint, "/"),
		apiKey:     cfg.OpenAIAPIKey,
		deployment: cfg.OpenAIDeployment,
		apiVersion: cfg.OpenAIAPIVersion,
		httpClient: &http.Client{
			Timeout: cfg.OpenAITimeout + 2*time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout: cfg.OpenAITimeout,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete performs one chat completion. jsonMode constrains the model to emit
// a JSON object.
func (c *AzureClient) complete(ctx context.Context, messages []chatMessage, maxTokens int, jsonMode bool) (string, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return "", fmt.Errorf("azure openai client not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := chatRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Base().Warn("chat completion returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return "", fmt.Errorf("chat completion returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// historyMessages converts the most recent transcript turns to chat messages
func historyMessages(history []domain.Message) []chatMessage {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out := make([]chatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

const classifySystemPrompt = `You classify a caller's latest utterance on a sales phone line into exactly one category:
- "quote_request": the caller wants a quote, or is supplying quote details (name, contact, products, quantities, dates).
- "modify_quote_info": the caller wants to change details already given for the quote in progress.
- "recall_quote_info": the caller asks what information has been recorded so far.
- "general_qa": anything else (product questions, small talk, unrelated).
Respond with a JSON object: {"behavior": "<category>"}.`

// Classify buckets the utterance into one of the four behavior categories
func (c *AzureClient) Classify(ctx context.Context, utterance string, history []domain.Message, hasQuote, quoteComplete bool) (domain.Behavior, error) {
	messages := []chatMessage{{Role: "system", Content: classifySystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{
		Role: "user",
		Content: fmt.Sprintf("Quote in progress: %t. Quote complete: %t.\nLatest utterance: %q",
			hasQuote, quoteComplete, utterance),
	})

	content, err := c.complete(ctx, messages, 50, true)
	if err != nil {
		return "", err
	}

	var result struct {
		Behavior string `json:"behavior"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return "", fmt.Errorf("malformed classify output: %w", err)
	}
	behavior := domain.Behavior(strings.TrimSpace(result.Behavior))
	if !behavior.Valid() {
		return "", fmt.Errorf("unrecognized behavior category %q", result.Behavior)
	}
	return behavior, nil
}

const extractSystemPrompt = `You extract quote details from a sales call transcript.
Return a JSON object with exactly these keys:
{"customer_name": string|null, "contact_info": string|null, "quote_items": [{"product_name": string, "quantity": number}], "expected_start_date": string|null, "notes": string|null}
Rules:
- Use null for anything the caller has not said. Never invent values.
- quote_items lists every product the caller asked for, with quantities (default 1 if they named a product without a count).
- contact_info is an email address or phone number exactly as spoken.
- Prefer product names from the provided catalog when the caller clearly means one of them.`

// Extract returns the quote fields mentioned across the conversation window
func (c *AzureClient) Extract(ctx context.Context, history []domain.Message, prior domain.ExtractedFields, catalogNames []string) (*Update, error) {
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prior state: %w", err)
	}

	messages := []chatMessage{{Role: "system", Content: extractSystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{
		Role: "user",
		Content: fmt.Sprintf("Known so far: %s\nProduct catalog: %s\nUpdate the extraction from the conversation above.",
			priorJSON, strings.Join(catalogNames, "; ")),
	})

	content, err := c.complete(ctx, messages, 500, true)
	if err != nil {
		return nil, err
	}

	var update Update
	if err := json.Unmarshal([]byte(content), &update); err != nil {
		return nil, fmt.Errorf("malformed extraction output: %w", err)
	}
	return &update, nil
}

const confirmSystemPrompt = `A caller was just read back their quote details and asked to confirm submission.
Decide whether their reply is a confirmation. Respond with JSON: {"confirmed": true|false}.
Only clear agreement counts; hesitation, questions, or changes are not confirmation.`

// Confirm decides whether the utterance agrees to submit the completed quote
func (c *AzureClient) Confirm(ctx context.Context, utterance string, history []domain.Message, quoteComplete bool) (bool, error) {
	if !quoteComplete {
		return false, nil
	}

	messages := []chatMessage{{Role: "system", Content: confirmSystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{Role: "user", Content: fmt.Sprintf("Caller's reply: %q", utterance)})

	content, err := c.complete(ctx, messages, 20, true)
	if err != nil {
		return false, err
	}

	var result struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return false, fmt.Errorf("malformed confirm output: %w", err)
	}
	return result.Confirmed, nil
}

const recapSystemPrompt = `A caller is asking what quote details have been recorded.
Identify which fields they want read back, from: customer_name, contact_info, quote_items, expected_start_date, notes.
Respond with JSON: {"fields": ["..."]}. Use an empty list if they want everything or it is unclear.`

// RecapFields names the specific fields the caller wants read back; an empty
// slice means all of them
func (c *AzureClient) RecapFields(ctx context.Context, utterance string, history []domain.Message) ([]string, error) {
	messages := []chatMessage{{Role: "system", Content: recapSystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{Role: "user", Content: fmt.Sprintf("Caller's question: %q", utterance)})

	content, err := c.complete(ctx, messages, 100, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("malformed recap output: %w", err)
	}

	known := map[string]bool{
		domain.FieldCustomerName:      true,
		domain.FieldContactInfo:       true,
		domain.FieldQuoteItems:        true,
		domain.FieldExpectedStartDate: true,
		domain.FieldNotes:             true,
	}
	fields := make([]string, 0, len(result.Fields))
	for _, f := range result.Fields {
		f = strings.TrimSpace(strings.ToLower(f))
		if known[f] {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

const answerSystemPrompt = `You are a friendly phone assistant for a sales line.
Answer the caller's question briefly, in one or two short spoken sentences.
If you do not know, say so and offer to put together a quote instead.`

// Answer produces a short spoken reply for general questions
func (c *AzureClient) Answer(ctx context.Context, utterance string, history []domain.Message) (string, error) {
	messages := []chatMessage{{Role: "system", Content: answerSystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{Role: "user", Content: utterance})

	content, err := c.complete(ctx, messages, 150, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

var _ LanguageModel = (*AzureClient)(nil)
