package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

const sfAPIVersion = "v59.0"

// SalesforceClient implements Backend against the Salesforce REST API using
// the OAuth username-password flow.
type SalesforceClient struct {
	loginURL     string
	clientID     string
	clientSecret string
	username     string
	password     string
	httpClient   *http.Client

	mutex       sync.Mutex
	accessToken string
	instanceURL string
	tokenExpiry time.Time
}

// NewSalesforceClient creates a Salesforce-backed CRM client
func NewSalesforceClient(cfg *config.Config) *SalesforceClient {
	return &SalesforceClient{
		loginURL:     strings.TrimRight(cfg.SalesforceLoginURL, "/"),
		clientID:     cfg.SalesforceClientID,
		clientSecret: cfg.SalesforceClientSecret,
		username:     cfg.SalesforceUsername,
		password:     cfg.SalesforcePassword,
		httpClient: &http.Client{
			Timeout: cfg.SalesforceTimeout,
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// authenticate fetches (or reuses) an access token
func (c *SalesforceClient) authenticate(ctx context.Context) (string, string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, c.instanceURL, nil
	}

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"username":      {c.username},
		"password":      {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.loginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("salesforce token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("failed to read token response: %w", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || token.AccessToken == "" {
		return "", "", fmt.Errorf("salesforce auth failed: %s %s", token.Error, token.Description)
	}

	c.accessToken = token.AccessToken
	c.instanceURL = strings.TrimRight(token.InstanceURL, "/")
	// Tokens live longer, but re-authing every 30 minutes keeps us clear of
	// session expiry without tracking refresh tokens.
	c.tokenExpiry = time.Now().Add(30 * time.Minute)

	logger.Base().Info("salesforce authenticated", zap.String("instance_url", c.instanceURL))
	return c.accessToken, c.instanceURL, nil
}

type queryResult struct {
	TotalSize int                      `json:"totalSize"`
	Records   []map[string]interface{} `json:"records"`
}

// query runs a SOQL query
func (c *SalesforceClient) query(ctx context.Context, soql string) (*queryResult, error) {
	token, instanceURL, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/services/data/%s/query?q=%s",
		instanceURL, sfAPIVersion, url.QueryEscape(soql))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("salesforce query failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("salesforce query returned status %d: %s", resp.StatusCode, body)
	}

	var result queryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	return &result, nil
}

// create inserts an sobject and returns its id
func (c *SalesforceClient) create(ctx context.Context, sobject string, fields map[string]interface{}) (string, error) {
	token, instanceURL, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", sobject, err)
	}

	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/%s", instanceURL, sfAPIVersion, sobject)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("salesforce create %s failed: %w", sobject, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read create response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("salesforce create %s returned status %d: %s", sobject, resp.StatusCode, body)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return created.ID, nil
}

// update patches fields on an existing sobject
func (c *SalesforceClient) update(ctx context.Context, sobject, id string, fields map[string]interface{}) error {
	token, instanceURL, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal %s update: %w", sobject, err)
	}

	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s", instanceURL, sfAPIVersion, sobject, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build update request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce update %s failed: %w", sobject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("salesforce update %s returned status %d: %s", sobject, resp.StatusCode, body)
	}
	return nil
}

// soqlEscape escapes single quotes for string literals in SOQL
func soqlEscape(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}

func recordString(record map[string]interface{}, key string) string {
	if v, ok := record[key].(string); ok {
		return v
	}
	return ""
}

// FindOrCreateAccount resolves the account for a caller. An email contact is
// the preferred key: if a contact with that email exists, its account wins.
// Without an email we fall back to account-by-name, which can collide on
// duplicate names.
func (c *SalesforceClient) FindOrCreateAccount(ctx context.Context, name, contactInfo string) (string, error) {
	if strings.Contains(contactInfo, "@") {
		result, err := c.query(ctx, fmt.Sprintf(
			"SELECT Id, AccountId FROM Contact WHERE Email = '%s' LIMIT 1", soqlEscape(contactInfo)))
		if err != nil {
			return "", err
		}
		if len(result.Records) > 0 {
			if accountID := recordString(result.Records[0], "AccountId"); accountID != "" {
				return accountID, nil
			}
		}
	}

	if name == "" {
		name = "Unknown Caller"
	}

	result, err := c.query(ctx, fmt.Sprintf(
		"SELECT Id FROM Account WHERE Name = '%s' LIMIT 1", soqlEscape(name)))
	if err != nil {
		return "", err
	}
	if len(result.Records) > 0 {
		return recordString(result.Records[0], "Id"), nil
	}

	accountID, err := c.create(ctx, "Account", map[string]interface{}{"Name": name})
	if err != nil {
		return "", err
	}
	logger.Base().Info("salesforce account created", zap.String("account_id", accountID))
	return accountID, nil
}

// FindOrCreateContact resolves or creates the person record under the account
func (c *SalesforceClient) FindOrCreateContact(ctx context.Context, accountID, name, contactInfo string) (string, error) {
	isEmail := strings.Contains(contactInfo, "@")

	if isEmail {
		result, err := c.query(ctx, fmt.Sprintf(
			"SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", soqlEscape(contactInfo)))
		if err != nil {
			return "", err
		}
		if len(result.Records) > 0 {
			return recordString(result.Records[0], "Id"), nil
		}
	}

	lastName := name
	if lastName == "" {
		lastName = "Unknown Caller"
	}

	fields := map[string]interface{}{
		"LastName":  lastName,
		"AccountId": accountID,
	}
	if isEmail {
		fields["Email"] = contactInfo
	} else if contactInfo != "" {
		fields["Phone"] = contactInfo
	}

	contactID, err := c.create(ctx, "Contact", fields)
	if err != nil {
		return "", err
	}
	logger.Base().Info("salesforce contact created", zap.String("contact_id", contactID))
	return contactID, nil
}

// ListActiveProducts returns all active catalog products
func (c *SalesforceClient) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	result, err := c.query(ctx, "SELECT Id, Name FROM Product2 WHERE IsActive = true ORDER BY Name")
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(result.Records))
	for _, record := range result.Records {
		products = append(products, domain.Product{
			ID:   recordString(record, "Id"),
			Name: recordString(record, "Name"),
		})
	}
	return products, nil
}

// findPricebookEntry looks up a priced entry for the product name: exact
// match first, then a LIKE search for partial transcriptions.
func (c *SalesforceClient) findPricebookEntry(ctx context.Context, pricebookID, productName string) (entryID string, unitPrice float64, err error) {
	escaped := soqlEscape(productName)
	queries := []string{
		fmt.Sprintf("SELECT Id, UnitPrice FROM PricebookEntry WHERE Pricebook2Id = '%s' AND Product2.Name = '%s' AND IsActive = true LIMIT 1",
			pricebookID, escaped),
		fmt.Sprintf("SELECT Id, UnitPrice FROM PricebookEntry WHERE Pricebook2Id = '%s' AND Product2.Name LIKE '%%%s%%' AND IsActive = true LIMIT 1",
			pricebookID, escaped),
	}

	for _, soql := range queries {
		result, qerr := c.query(ctx, soql)
		if qerr != nil {
			return "", 0, qerr
		}
		if len(result.Records) > 0 {
			record := result.Records[0]
			price, _ := record["UnitPrice"].(float64)
			return recordString(record, "Id"), price, nil
		}
	}
	return "", 0, nil
}

// CreateQuote creates the quote header, attaches line items priced from the
// standard pricebook, and records any unpriceable products on the description.
func (c *SalesforceClient) CreateQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	pricebook, err := c.query(ctx, "SELECT Id FROM Pricebook2 WHERE IsStandard = true LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(pricebook.Records) == 0 {
		return nil, fmt.Errorf("no standard pricebook configured")
	}
	pricebookID := recordString(pricebook.Records[0], "Id")

	quoteName := fmt.Sprintf("Quote for %s", req.CustomerName)
	if req.CustomerName == "" {
		quoteName = fmt.Sprintf("Phone quote %s", time.Now().Format("2006-01-02 15:04"))
	}

	quoteFields := map[string]interface{}{
		"Name":         quoteName,
		"Pricebook2Id": pricebookID,
		"Status":       "Draft",
	}
	if req.AccountID != "" {
		quoteFields["AccountId"] = req.AccountID
	}
	if req.ContactID != "" {
		quoteFields["ContactId"] = req.ContactID
	}
	description := req.Notes
	if req.StartDate != "" {
		description = strings.TrimSpace(description + "\nRequested start: " + req.StartDate)
	}
	if description != "" {
		quoteFields["Description"] = description
	}

	quoteID, err := c.create(ctx, "Quote", quoteFields)
	if err != nil {
		return nil, err
	}

	var unmatched []string
	for _, item := range req.Items {
		entryID, unitPrice, err := c.findPricebookEntry(ctx, pricebookID, item.ProductName)
		if err != nil {
			return nil, err
		}
		if entryID == "" {
			unmatched = append(unmatched, item.Summary())
			continue
		}

		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		_, err = c.create(ctx, "QuoteLineItem", map[string]interface{}{
			"QuoteId":          quoteID,
			"PricebookEntryId": entryID,
			"Quantity":         quantity,
			"UnitPrice":        unitPrice,
		})
		if err != nil {
			return nil, err
		}
	}

	// Products without a priced entry still need to be visible to the sales
	// team, so they go on the description.
	if len(unmatched) > 0 {
		note := "Requested but not in pricebook: " + strings.Join(unmatched, ", ")
		if description != "" {
			note = description + "\n" + note
		}
		if err := c.update(ctx, "Quote", quoteID, map[string]interface{}{"Description": note}); err != nil {
			logger.Base().Warn("failed to record unmatched items on quote",
				zap.String("quote_id", quoteID), zap.Error(err))
		}
	}

	quoteNumber := ""
	numbered, err := c.query(ctx, fmt.Sprintf("SELECT QuoteNumber FROM Quote WHERE Id = '%s'", quoteID))
	if err == nil && len(numbered.Records) > 0 {
		quoteNumber = recordString(numbered.Records[0], "QuoteNumber")
	}

	c.mutex.Lock()
	instanceURL := c.instanceURL
	c.mutex.Unlock()

	result := &QuoteResult{
		QuoteID:        quoteID,
		QuoteNumber:    quoteNumber,
		QuoteURL:       fmt.Sprintf("%s/lightning/r/Quote/%s/view", instanceURL, quoteID),
		UnmatchedItems: unmatched,
	}
	logger.Base().Info("salesforce quote created",
		zap.String("quote_id", quoteID),
		zap.String("quote_number", quoteNumber),
		zap.Int("unmatched_items", len(unmatched)))
	return result, nil
}

var _ Backend = (*SalesforceClient)(nil)
