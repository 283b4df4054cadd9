package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/zombor/receipt-extractor/internal/receipt"
)

const subjectPrefix = "Subject: "

// Sender delivers a plain text message
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailSender is the part of the resend emails service ResendSender uses
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender implements Sender with the Resend API
type ResendSender struct {
	emails EmailSender
	from   string
}

// NewResendSender creates a ResendSender for apiKey sending from the given address
func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	return NewResendSenderWithDeps(resend.NewClient(apiKey).Emails, from), nil
}

// NewResendSenderWithDeps creates a ResendSender with a custom emails service for testing
func NewResendSenderWithDeps(emails EmailSender, from string) *ResendSender {
	return &ResendSender{emails: emails, from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	_, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}
	return nil
}

// Recipient derives a vendor mailbox: the vendor name lowercased with spaces removed, at domain
func Recipient(vendorName, domain string) string {
	local := strings.ToLower(strings.Join(strings.Fields(vendorName), ""))
	return local + "@" + domain
}

// splitSubject separates a leading "Subject: ..." line from the rest of a rendered template
func splitSubject(text string) (string, string) {
	first, rest, _ := strings.Cut(text, "\n")
	if !strings.HasPrefix(first, subjectPrefix) {
		return "Receipt Details", text
	}
	return strings.TrimSpace(strings.TrimPrefix(first, subjectPrefix)), strings.TrimLeft(rest, "\n")
}

// Notifier writes notification files for a dataset and, with a Sender, mails them
type Notifier struct {
	renderer *Renderer
	dir      string
	sender   Sender
	domain   string
}

// NewNotifier creates a Notifier writing into dir. A nil sender only writes files.
func NewNotifier(renderer *Renderer, dir string, sender Sender, domain string) *Notifier {
	return &Notifier{
		renderer: renderer,
		dir:      dir,
		sender:   sender,
		domain:   domain,
	}
}

// Notify renders every record and delivers it when a sender is configured.
// Delivery failures are logged and do not stop the remaining messages.
func (n *Notifier) Notify(ctx context.Context, ds receipt.Dataset) error {
	paths, err := n.renderer.WriteTemplates(n.dir, ds)
	if err != nil {
		return fmt.Errorf("writing templates: %w", err)
	}
	slog.Info("Wrote notification templates", "dir", n.dir, "count", len(paths))

	if n.sender == nil {
		return nil
	}

	var sent int
	for _, r := range ds {
		if err := ctx.Err(); err != nil {
			return err
		}

		text, err := n.renderer.Render(r)
		if err != nil {
			return err
		}
		subject, body := splitSubject(text)
		to := Recipient(r.VendorName, n.domain)

		if err := n.sender.Send(ctx, to, subject, body); err != nil {
			slog.Error("Error sending notification", "receipt_number", r.ReceiptNumber, "to", to, "error", err)
			continue
		}
		sent++
	}
	slog.Info("Sent notifications", "sent", sent, "total", len(ds))
	return nil
}
