package crm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Mailer sends quote summary emails over SMTP with a PDF summary attached
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	company  string
}

// NewMailer creates an SMTP-backed quote notifier
func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		company:  cfg.CompanyName,
	}
}

// SendQuoteEmail emails the caller a summary of the quote that was just
// submitted, with a PDF rendition attached.
func (m *Mailer) SendQuoteEmail(ctx context.Context, to string, result *QuoteResult, fields domain.ExtractedFields) error {
	if m.host == "" || m.from == "" {
		return fmt.Errorf("smtp not configured")
	}
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("recipient %q is not an email address", to)
	}

	subject := fmt.Sprintf("Your quote %s from %s", result.QuoteNumber, m.company)
	textBody := m.textBody(result, fields)

	pdfData, err := m.renderPDF(result, fields)
	if err != nil {
		// The email is still worth sending without the attachment
		logger.Base().Warn("failed to render quote pdf, sending plain email", zap.Error(err))
		pdfData = nil
	}

	message, err := buildMIMEMessage(m.from, to, subject, textBody, pdfData,
		fmt.Sprintf("quote-%s.pdf", result.QuoteNumber))
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.from, []string{to}, message)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send quote email: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Base().Info("quote email sent",
		zap.String("to", to),
		zap.String("quote_number", result.QuoteNumber))
	return nil
}

func (m *Mailer) textBody(result *QuoteResult, fields domain.ExtractedFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", fields.CustomerName)
	fmt.Fprintf(&b, "Thank you for calling %s. Your quote %s has been created.\n\n", m.company, result.QuoteNumber)
	b.WriteString("Requested items:\n")
	for _, item := range fields.QuoteItems {
		fmt.Fprintf(&b, "  - %s\n", item.Summary())
	}
	if fields.ExpectedStartDate != "" {
		fmt.Fprintf(&b, "\nRequested start: %s\n", fields.ExpectedStartDate)
	}
	if result.QuoteURL != "" {
		fmt.Fprintf(&b, "\nView your quote: %s\n", result.QuoteURL)
	}
	b.WriteString("\nWe will be in touch shortly.\n")
	return b.String()
}

// renderPDF produces the attached one-page quote summary
func (m *Mailer) renderPDF(result *QuoteResult, fields domain.ExtractedFields) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Quote %s", result.QuoteNumber), "", 1, "", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Customer: %s", fields.CustomerName), "", 1, "", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Contact: %s", fields.ContactInfo), "", 1, "", false, 0, "")
	if fields.ExpectedStartDate != "" {
		pdf.CellFormat(0, 8, fmt.Sprintf("Requested start: %s", fields.ExpectedStartDate), "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Items", "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	for _, item := range fields.QuoteItems {
		pdf.CellFormat(0, 8, item.Summary(), "", 1, "", false, 0, "")
	}

	if fields.Notes != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Notes", "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 12)
		pdf.MultiCell(0, 8, fields.Notes, "", "", false)
	}

	pdf.SetFont("Arial", "I", 8)
	pdf.SetY(-15)
	pdf.CellFormat(0, 10, fmt.Sprintf("Generated on %s", time.Now().Format("2006-01-02 15:04:05")), "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// buildMIMEMessage assembles a multipart/mixed message with an optional PDF
// attachment. attachment may be nil for a plain text email.
func buildMIMEMessage(from, to, subject, textBody string, attachment []byte, filename string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	textPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(textBody)); err != nil {
		return nil, err
	}

	if len(attachment) > 0 {
		pdfPart, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/pdf"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
		})
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(attachment)
		// wrap base64 at 76 columns per RFC 2045
		for len(encoded) > 76 {
			if _, err := pdfPart.Write([]byte(encoded[:76] + "\r\n")); err != nil {
				return nil, err
			}
			encoded = encoded[76:]
		}
		if _, err := pdfPart.Write([]byte(encoded + "\r\n")); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ Notifier = (*Mailer)(nil)
