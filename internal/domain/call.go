package domain

import (
	"fmt"
	"strings"
	"time"
)

// CallStatus represents the lifecycle state of a telephony call leg
type CallStatus string

const (
	CallStatusAnswered     CallStatus = "answered"
	CallStatusConnected    CallStatus = "connected"
	CallStatusDisconnected CallStatus = "disconnected"
)

// Message roles within a call transcript
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistoryMessages caps the rolling transcript window kept per call
const MaxHistoryMessages = 10

// Message is a single turn in the call transcript
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Behavior is the classified intent of a caller utterance
type Behavior string

const (
	BehaviorQuoteRequest Behavior = "quote_request"
	BehaviorModifyQuote  Behavior = "modify_quote_info"
	BehaviorRecallQuote  Behavior = "recall_quote_info"
	BehaviorGeneralQA    Behavior = "general_qa"
)

// Valid reports whether b is one of the known behavior categories
func (b Behavior) Valid() bool {
	switch b {
	case BehaviorQuoteRequest, BehaviorModifyQuote, BehaviorRecallQuote, BehaviorGeneralQA:
		return true
	}
	return false
}

// Quote field identifiers, used for missing-field tracking and recall requests
const (
	FieldCustomerName      = "customer_name"
	FieldContactInfo       = "contact_info"
	FieldQuoteItems        = "quote_items"
	FieldExpectedStartDate = "expected_start_date"
	FieldNotes             = "notes"
)

// RequiredQuoteFields are the fields a quote must have before it can be submitted,
// in the order they are asked for
var RequiredQuoteFields = []string{FieldCustomerName, FieldContactInfo, FieldQuoteItems}

// QuoteItem is one requested product line
type QuoteItem struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	// Matched is set once the product name has been resolved against the CRM catalog
	Matched bool `json:"matched,omitempty"`
}

// ExtractedFields holds everything gathered from the caller so far.
// Empty string / empty slice means "not yet provided".
type ExtractedFields struct {
	CustomerName      string      `json:"customer_name,omitempty"`
	ContactInfo       string      `json:"contact_info,omitempty"`
	QuoteItems        []QuoteItem `json:"quote_items,omitempty"`
	ExpectedStartDate string      `json:"expected_start_date,omitempty"`
	Notes             string      `json:"notes,omitempty"`
}

// Field returns the value of a named required field, items rendered as a summary string
func (e ExtractedFields) Field(name string) string {
	switch name {
	case FieldCustomerName:
		return e.CustomerName
	case FieldContactInfo:
		return e.ContactInfo
	case FieldQuoteItems:
		return e.ItemsSummary()
	case FieldExpectedStartDate:
		return e.ExpectedStartDate
	case FieldNotes:
		return e.Notes
	}
	return ""
}

// ItemsSummary renders quote items as "2 x Widget, 1 x Gadget"
func (e ExtractedFields) ItemsSummary() string {
	if len(e.QuoteItems) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.QuoteItems))
	for _, item := range e.QuoteItems {
		parts = append(parts, item.Summary())
	}
	return strings.Join(parts, ", ")
}

// Summary renders a single item as "2 x Widget"
func (i QuoteItem) Summary() string {
	qty := i.Quantity
	if qty <= 0 {
		qty = 1
	}
	return fmt.Sprintf("%d x %s", qty, i.ProductName)
}

// QuoteState is the in-progress quote attached to a call
type QuoteState struct {
	Extracted     ExtractedFields `json:"extracted"`
	MissingFields []string        `json:"missing_fields"`
	IsComplete    bool            `json:"is_complete"`
	// ProductsAvailable is the catalog snapshot used for product matching on this call
	ProductsAvailable []Product `json:"products_available,omitempty"`
	// ConfirmNonce is a one-shot token issued when the quote becomes complete.
	// Submission consumes it, so a double confirmation cannot create two quotes.
	ConfirmNonce string `json:"confirm_nonce,omitempty"`
}

// Product is a CRM catalog entry
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CallRecord is the full per-call state held in memory while the call is live
type CallRecord struct {
	CallID      string      `json:"call_id"`
	CallerPhone string      `json:"caller_phone"`
	CallerRawID string      `json:"caller_raw_id"`
	Status      CallStatus  `json:"status"`
	History     []Message   `json:"history"`
	Quote       *QuoteState `json:"quote,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
}

// CallerTarget returns the dialable caller identity: the phone number when known,
// otherwise the raw participant id with its "4:" PSTN prefix stripped.
func (c *CallRecord) CallerTarget() string {
	if c.CallerPhone != "" {
		return c.CallerPhone
	}
	return strings.TrimPrefix(c.CallerRawID, "4:")
}
