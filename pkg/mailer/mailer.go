package mailer

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/sirupsen/logrus"
)

const sendTimeout = 10 * time.Second

// BookingConfirmation is the content of a booking confirmation email
type BookingConfirmation struct {
	ToName           string
	ToEmail          string
	BookingReference string
	PackageTitle     string
	Amount           string
	PaymentDate      string
	TicketID         string
	TransactionUUID  string
	ESewaRefID       string
}

// Mailer sends transactional emails
type Mailer interface {
	SendBookingConfirmation(ctx context.Context, c BookingConfirmation) error
}

// New returns a MailerSend mailer when apiKey is set, otherwise a mailer that only logs
func New(apiKey, fromName, fromEmail string, logger *logrus.Logger) Mailer {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(fromEmail) == "" {
		logger.Warn("MailerSend not configured, confirmation emails will only be logged")
		return &LogMailer{logger: logger}
	}
	return NewMailerSend(mailersend.NewMailersend(apiKey), fromName, fromEmail, logger)
}

// MailerSend delivers email through the MailerSend API
type MailerSend struct {
	client *mailersend.Mailersend
	from   mailersend.From
	logger *logrus.Logger
}

// NewMailerSend wraps an existing MailerSend client
func NewMailerSend(client *mailersend.Mailersend, fromName, fromEmail string, logger *logrus.Logger) *MailerSend {
	return &MailerSend{
		client: client,
		from:   mailersend.From{Name: fromName, Email: fromEmail},
		logger: logger,
	}
}

// SendBookingConfirmation emails the traveler their booking details
func (m *MailerSend) SendBookingConfirmation(ctx context.Context, c BookingConfirmation) error {
	if strings.TrimSpace(c.ToEmail) == "" {
		return fmt.Errorf("empty recipient email")
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subject, text, htmlBody := renderConfirmation(c)

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: c.ToName, Email: c.ToEmail}})
	msg.SetSubject(subject)
	msg.SetText(text)
	msg.SetHTML(htmlBody)

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mailersend send failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	m.logger.WithFields(logrus.Fields{
		"booking_reference": c.BookingReference,
		"message_id":        res.Header.Get("X-Message-Id"),
	}).Info("Booking confirmation email sent")

	return nil
}

// LogMailer logs emails instead of sending them
type LogMailer struct {
	logger *logrus.Logger
}

// NewLogMailer creates a mailer for development
func NewLogMailer(logger *logrus.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendBookingConfirmation logs the rendered email
func (m *LogMailer) SendBookingConfirmation(ctx context.Context, c BookingConfirmation) error {
	subject, text, _ := renderConfirmation(c)
	m.logger.WithFields(logrus.Fields{
		"to":                c.ToEmail,
		"subject":           subject,
		"booking_reference": c.BookingReference,
	}).Info("Booking confirmation email (not sent)\n" + text)
	return nil
}

func renderConfirmation(c BookingConfirmation) (subject, text, htmlBody string) {
	subject = fmt.Sprintf("Booking confirmed: %s (%s)", c.PackageTitle, c.BookingReference)

	lines := []string{
		fmt.Sprintf("Namaste %s,", c.ToName),
		"",
		fmt.Sprintf("Your booking for %s is confirmed.", c.PackageTitle),
		"",
		"Booking reference: " + c.BookingReference,
		"Ticket: " + c.TicketID,
		"Amount paid: NPR " + c.Amount,
		"Payment date: " + c.PaymentDate,
		"eSewa transaction: " + c.TransactionUUID,
	}
	if c.ESewaRefID != "" {
		lines = append(lines, "eSewa reference: "+c.ESewaRefID)
	}
	text = strings.Join(lines, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Namaste %s,</p>", html.EscapeString(c.ToName))
	fmt.Fprintf(&b, "<p>Your booking for <b>%s</b> is confirmed.</p><ul>", html.EscapeString(c.PackageTitle))
	fmt.Fprintf(&b, "<li>Booking reference: <b>%s</b></li>", html.EscapeString(c.BookingReference))
	fmt.Fprintf(&b, "<li>Ticket: %s</li>", html.EscapeString(c.TicketID))
	fmt.Fprintf(&b, "<li>Amount paid: NPR %s</li>", html.EscapeString(c.Amount))
	fmt.Fprintf(&b, "<li>Payment date: %s</li>", html.EscapeString(c.PaymentDate))
	fmt.Fprintf(&b, "<li>eSewa transaction: %s</li>", html.EscapeString(c.TransactionUUID))
	if c.ESewaRefID != "" {
		fmt.Fprintf(&b, "<li>eSewa reference: %s</li>", html.EscapeString(c.ESewaRefID))
	}
	b.WriteString("</ul>")
	htmlBody = b.String()

	return subject, text, htmlBody
}
