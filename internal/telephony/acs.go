package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

const acsAPIVersion = "2023-10-15"

// ACSGateway drives calls through the Azure Communication Services Call
// Automation REST API.
type ACSGateway struct {
	endpoint          string
	accessKey         []byte
	callbackURI       string
	cognitiveEndpoint string
	voiceName         string
	httpClient        *http.Client
}

// NewACSGateway creates a gateway from an ACS connection string of the form
// "endpoint=https://...;accesskey=base64key".
func NewACSGateway(cfg *config.Config) (*ACSGateway, error) {
	endpoint, key, err := parseConnectionString(cfg.ACSConnectionString)
	if err != nil {
		return nil, err
	}

	return &ACSGateway{
		endpoint:          endpoint,
		accessKey:         key,
		callbackURI:       strings.TrimRight(cfg.ACSCallbackBaseURL, "/") + "/api/acs/calls/events",
		cognitiveEndpoint: cfg.ACSCognitiveEndpoint,
		voiceName:         cfg.ACSVoiceName,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func parseConnectionString(connStr string) (endpoint string, key []byte, err error) {
	for _, part := range strings.Split(connStr, ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "endpoint":
			endpoint = strings.TrimRight(value, "/")
		case "accesskey":
			key, err = base64.StdEncoding.DecodeString(value)
			if err != nil {
				return "", nil, fmt.Errorf("invalid access key in connection string: %w", err)
			}
		}
	}
	if endpoint == "" || len(key) == 0 {
		return "", nil, fmt.Errorf("connection string must contain endpoint and accesskey")
	}
	return endpoint, key, nil
}

// do signs and performs an ACS request per the communication services HMAC
// auth scheme: the signature covers verb, path+query, date, host and the
// body's SHA-256.
func (g *ACSGateway) do(ctx context.Context, method, pathAndQuery string, body interface{}) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	requestURL := g.endpoint + pathAndQuery
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid request url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	contentHash := sha256.Sum256(payload)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])
	date := time.Now().UTC().Format(http.TimeFormat)

	stringToSign := method + "\n" + parsed.RequestURI() + "\n" +
		date + ";" + parsed.Host + ";" + contentHashB64
	mac := hmac.New(sha256.New, g.accessKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("acs request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read acs response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// Answer accepts the inbound call and returns the call connection id
func (g *ACSGateway) Answer(ctx context.Context, incomingCallContext string) (string, error) {
	body := map[string]interface{}{
		"incomingCallContext": incomingCallContext,
		"callbackUri":         g.callbackURI,
	}
	if g.cognitiveEndpoint != "" {
		body["callIntelligenceOptions"] = map[string]string{
			"cognitiveServicesEndpoint": g.cognitiveEndpoint,
		}
	}

	respBody, status, err := g.do(ctx, http.MethodPost,
		"/calling/callConnections:answer?api-version="+acsAPIVersion, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("acs answer returned status %d: %s", status, respBody)
	}

	var result struct {
		CallConnectionID string `json:"callConnectionId"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode answer response: %w", err)
	}
	if result.CallConnectionID == "" {
		return "", fmt.Errorf("acs answer returned no call connection id")
	}

	logger.Base().Info("call answered", zap.String("call_id", result.CallConnectionID))
	return result.CallConnectionID, nil
}

// Speak plays synthesized text into the call
func (g *ACSGateway) Speak(ctx context.Context, callID, text, tag string) error {
	body := map[string]interface{}{
		"playSources": []map[string]interface{}{
			{
				"kind": "text",
				"text": map[string]string{
					"text":      text,
					"voiceName": g.voiceName,
				},
			},
		},
		"playTo":           []interface{}{},
		"operationContext": tag,
	}

	respBody, status, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/calling/callConnections/%s:play?api-version=%s", url.PathEscape(callID), acsAPIVersion), body)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return fmt.Errorf("acs play returned status %d: %s", status, respBody)
	}

	logger.Base().Debug("playback started",
		zap.String("call_id", callID),
		zap.String("tag", tag),
		zap.Int("text_length", len(text)))
	return nil
}

// Listen starts speech recognition against the caller's audio. Results arrive
// later as RecognizeCompleted webhook events.
func (g *ACSGateway) Listen(ctx context.Context, callID, targetIdentity string) error {
	body := map[string]interface{}{
		"recognizeInputType":          "speech",
		"interruptCallMediaOperation": false,
		"operationContext":            "listen",
		"recognizeOptions": map[string]interface{}{
			"interruptPrompt":                false,
			"initialSilenceTimeoutInSeconds": 10,
			"targetParticipant": map[string]interface{}{
				"kind": "phoneNumber",
				"phoneNumber": map[string]string{
					"value": targetIdentity,
				},
			},
			"speechOptions": map[string]interface{}{
				"endSilenceTimeoutInMs": 1200,
			},
		},
	}

	respBody, status, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/calling/callConnections/%s:recognize?api-version=%s", url.PathEscape(callID), acsAPIVersion), body)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return fmt.Errorf("acs recognize returned status %d: %s", status, respBody)
	}

	logger.Base().Debug("listening started", zap.String("call_id", callID))
	return nil
}

// Hangup terminates the call for everyone
func (g *ACSGateway) Hangup(ctx context.Context, callID string) error {
	respBody, status, err := g.do(ctx, http.MethodDelete,
		fmt.Sprintf("/calling/callConnections/%s?api-version=%s", url.PathEscape(callID), acsAPIVersion), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("acs hangup returned status %d: %s", status, respBody)
	}

	logger.Base().Info("call hung up", zap.String("call_id", callID))
	return nil
}

var _ Gateway = (*ACSGateway)(nil)
