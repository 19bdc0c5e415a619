// Package relay wires the mail and PDF sources to a messaging channel.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shineum/inbox-relay/internal/channel"
	"github.com/shineum/inbox-relay/internal/email"
	"github.com/shineum/inbox-relay/internal/mailbox"
	"github.com/shineum/inbox-relay/internal/pdf"
)

// dateLayout renders the date in PDF notices as DD/MM/YYYY.
const dateLayout = "02/01/2006"

// MailSource returns the unseen messages of one sender.
type MailSource interface {
	FetchUnseenFrom(ctx context.Context, sender string) (*mailbox.Result, error)
}

// DocumentSource downloads a document by URL.
type DocumentSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config holds the relay settings taken from the process configuration.
type Config struct {
	Sender       string
	PDFURL       string
	SubjectLabel string
	PDFLabel     string
}

// Report summarizes what one flow run attempted.
type Report struct {
	Messages   int
	Skipped    int
	TextsSent  int
	TextErrors []error
	Deliveries []channel.Delivery
}

// Failures counts failed text and document sends.
func (r *Report) Failures() int {
	return len(r.TextErrors) + channel.Failed(r.Deliveries)
}

// Relay runs the mail and PDF flows against one channel.
type Relay struct {
	cfg  Config
	mail MailSource
	docs DocumentSource
	ch   channel.Channel
	now  func() time.Time
}

// New creates a Relay. Either source may be nil when its flow is not used.
func New(cfg Config, mail MailSource, docs DocumentSource, ch channel.Channel) *Relay {
	return &Relay{
		cfg:  cfg,
		mail: mail,
		docs: docs,
		ch:   ch,
		now:  time.Now,
	}
}

// MailToChannel fetches unseen mail from the configured sender and relays
// every message that carries attachments: its formatted subject as text
// (when present), then each attachment as a document. Only a mailbox error
// is returned; channel failures are recorded in the report.
func (r *Relay) MailToChannel(ctx context.Context) (*Report, error) {
	res, err := r.mail.FetchUnseenFrom(ctx, r.cfg.Sender)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Messages: len(res.Messages),
		Skipped:  len(res.Skipped),
	}

	if len(res.Attachments()) == 0 {
		slog.Info("no new emails", "sender", r.cfg.Sender, "messages", report.Messages)
		return report, nil
	}

	for _, msg := range res.Messages {
		if !msg.HasAttachments() {
			continue
		}
		if msg.Subject != "" {
			r.sendText(ctx, report, r.cfg.SubjectLabel+FormatSubject(msg.Subject))
		}
		report.Deliveries = append(report.Deliveries, channel.SendDocuments(ctx, r.ch, msg.Attachments)...)
	}

	slog.Info("new email found and processed",
		"messages", report.Messages,
		"documents", len(report.Deliveries),
		"failures", report.Failures(),
	)
	return report, nil
}

// PDFToChannel downloads the configured PDF and relays a dated notice
// followed by the document. If the download fails nothing is sent and the
// error is returned.
func (r *Relay) PDFToChannel(ctx context.Context) (*Report, error) {
	body, err := r.docs.Fetch(ctx, r.cfg.PDFURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the PDF from %s: %w", r.cfg.PDFURL, err)
	}

	report := &Report{}
	filename := pdf.Filename(r.cfg.PDFURL)

	r.sendText(ctx, report, r.cfg.PDFLabel+r.now().Format(dateLayout))
	report.Deliveries = channel.SendDocuments(ctx, r.ch, []email.Attachment{
		{Filename: filename, ContentType: "application/pdf", Content: body},
	})

	slog.Info("PDF relayed",
		"filename", filename,
		"size", len(body),
		"failures", report.Failures(),
	)
	return report, nil
}

func (r *Relay) sendText(ctx context.Context, report *Report, text string) {
	if err := r.ch.SendText(ctx, text); err != nil {
		slog.Error("failed to send message", "channel", r.ch.Name(), "error", err)
		report.TextErrors = append(report.TextErrors, err)
		return
	}
	report.TextsSent++
}

// FormatSubject normalizes a mail subject for the channel notice: it is
// lower-cased, every "fwd:" marker is removed, surrounding whitespace is
// trimmed and the first letter is upper-cased.
func FormatSubject(subject string) string {
	s := strings.ToLower(subject)
	s = strings.ReplaceAll(s, "fwd:", "")
	s = strings.TrimSpace(s)

	first, size := utf8.DecodeRuneInString(s)
	if first == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(first)) + s[size:]
}
