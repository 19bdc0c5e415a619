// Package channel defines the interface for messaging backends that receive
// relayed notices and documents.
package channel

import (
	"context"
	"log/slog"

	"github.com/shineum/inbox-relay/internal/email"
)

// Channel is the interface that messaging backends must implement.
// Each call delivers exactly one item and performs no retries.
type Channel interface {
	// SendText posts a plain text message to the channel.
	SendText(ctx context.Context, text string) error

	// SendDocument posts a named binary file to the channel.
	SendDocument(ctx context.Context, filename string, content []byte) error

	// Name returns the human-readable name of this channel.
	Name() string
}

// Delivery is the outcome of sending one document.
type Delivery struct {
	Filename string
	Err      error
}

// SendDocuments sends each attachment in order, one call per attachment.
// A failed send is logged and recorded but never stops the remaining ones.
func SendDocuments(ctx context.Context, ch Channel, attachments []email.Attachment) []Delivery {
	deliveries := make([]Delivery, 0, len(attachments))

	for _, att := range attachments {
		err := ch.SendDocument(ctx, att.Filename, att.Content)
		if err != nil {
			slog.Error("failed to send document",
				"channel", ch.Name(),
				"filename", att.Filename,
				"error", err,
			)
		} else {
			slog.Info("document sent",
				"channel", ch.Name(),
				"filename", att.Filename,
				"size", len(att.Content),
			)
		}
		deliveries = append(deliveries, Delivery{Filename: att.Filename, Err: err})
	}

	return deliveries
}

// Failed counts the deliveries that returned an error.
func Failed(deliveries []Delivery) int {
	n := 0
	for _, d := range deliveries {
		if d.Err != nil {
			n++
		}
	}
	return n
}
