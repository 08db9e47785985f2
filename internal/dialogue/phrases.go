package dialogue

import (
	"fmt"
	"strings"

	"github.com/voicedesk/voicequote/internal/domain"
)

// fieldPromptOrder is the order in which missing fields are requested
var fieldPromptOrder = []string{
	domain.FieldCustomerName,
	domain.FieldContactInfo,
	domain.FieldQuoteItems,
}

var fieldPrompts = map[string]string{
	domain.FieldCustomerName: "Could I have your name for the quote, please?",
	domain.FieldContactInfo:  "What's the best email address or phone number to send the quote to?",
	domain.FieldQuoteItems:   "Which products would you like, and how many of each?",
}

var fieldLabels = map[string]string{
	domain.FieldCustomerName:      "name",
	domain.FieldContactInfo:       "contact",
	domain.FieldQuoteItems:        "products",
	domain.FieldExpectedStartDate: "start date",
	domain.FieldNotes:             "notes",
}

// nextFieldPrompt asks for the highest-priority field still missing
func nextFieldPrompt(missing []string) string {
	for _, field := range fieldPromptOrder {
		for _, m := range missing {
			if m == field {
				return fieldPrompts[field]
			}
		}
	}
	return fieldPrompts[domain.FieldQuoteItems]
}

// recapPrompt reads the collected fields back and asks for confirmation
func recapPrompt(fields domain.ExtractedFields) string {
	var sb strings.Builder
	sb.WriteString("Let me make sure I have everything. ")
	sb.WriteString(fmt.Sprintf("The quote is for %s, ", fields.CustomerName))
	sb.WriteString(fmt.Sprintf("I'll send it to %s, ", fields.ContactInfo))
	sb.WriteString(fmt.Sprintf("and you'd like %s. ", fields.ItemsSummary()))
	if fields.ExpectedStartDate != "" {
		sb.WriteString(fmt.Sprintf("You mentioned starting around %s. ", fields.ExpectedStartDate))
	}
	sb.WriteString("Shall I go ahead and submit the quote? You can also ask me to change anything.")
	return sb.String()
}

// acknowledgeAndPrompt thanks the caller for progress and asks for what is
// still missing, or recaps when everything is in.
func acknowledgeAndPrompt(state *domain.QuoteState) string {
	if state.IsComplete {
		return recapPrompt(state.Extracted)
	}
	return "Thanks, I've noted that. " + nextFieldPrompt(state.MissingFields)
}

// recallReply reads the requested fields back without changing anything
func recallReply(fields domain.ExtractedFields, requested []string) string {
	if len(requested) == 0 {
		requested = []string{
			domain.FieldCustomerName,
			domain.FieldContactInfo,
			domain.FieldQuoteItems,
			domain.FieldExpectedStartDate,
			domain.FieldNotes,
		}
	}
	var parts []string
	for _, name := range requested {
		value := fields.Field(name)
		if value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("the %s is %s", fieldLabels[name], value))
	}
	if len(parts) == 0 {
		return "I don't have that on file yet for this quote."
	}
	return "So far " + strings.Join(parts, ", and ") + "."
}

// submittedReply announces the created quote
func submittedReply(quoteNumber string, emailSent bool) string {
	msg := "Great news, your quote has been submitted"
	if quoteNumber != "" {
		msg = fmt.Sprintf("Great news, your quote %s has been submitted", quoteNumber)
	}
	if emailSent {
		msg += " and a copy is on its way to your email"
	}
	return msg + ". Is there anything else I can help you with?"
}

const (
	submitInFlightReply = "One moment please, I'm already submitting that quote for you."
	submitFailedReply   = "I'm sorry, I couldn't submit the quote just now. Let's try again, just say confirm when you're ready."
	answerFallbackReply = "I'm sorry, I didn't quite catch that. Could you say it again?"
)
