// Package mailbox fetches unseen messages from a single sender and extracts
// their attachments.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/inbox-relay/internal/email"
	"github.com/shineum/inbox-relay/internal/parser"
)

// Session is an authenticated mailbox session. Implementations are not safe
// for concurrent use.
type Session interface {
	// Select opens the named mailbox for the following commands.
	Select(ctx context.Context, mailbox string) error

	// SearchUnseenFrom returns the UIDs of messages without the \Seen flag
	// whose From header matches sender.
	SearchUnseenFrom(ctx context.Context, sender string) ([]uint32, error)

	// FetchRaw returns the full RFC 5322 message without setting \Seen.
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)

	// MarkSeen adds the \Seen flag to the message.
	MarkSeen(ctx context.Context, uid uint32) error

	// Logout ends the session and releases the connection.
	Logout() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Skipped records a matching message that could not be processed.
type Skipped struct {
	UID uint32
	Err error
}

// Result is the outcome of one fetch pass. Messages are in the order the
// server returned them.
type Result struct {
	Messages []email.Message
	Skipped  []Skipped
}

// Subject returns the subject of the last processed message, or "" when no
// message was processed. Callers relaying several messages should read
// Messages instead.
func (r *Result) Subject() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Subject
}

// Attachments returns the attachments of every processed message, in order.
func (r *Result) Attachments() []email.Attachment {
	var all []email.Attachment
	for _, msg := range r.Messages {
		all = append(all, msg.Attachments...)
	}
	return all
}

// Fetcher pulls unseen mail from one mailbox.
type Fetcher struct {
	dialer  Dialer
	mailbox string
}

// NewFetcher creates a Fetcher reading the given mailbox through dialer.
func NewFetcher(dialer Dialer, mailbox string) *Fetcher {
	return &Fetcher{dialer: dialer, mailbox: mailbox}
}

// FetchUnseenFrom opens a session, collects every unseen message from sender
// and marks each processed message as seen. Connection, authentication and
// mailbox selection failures are returned. A failed search yields an empty
// result; a message that cannot be fetched or parsed is recorded in
// Result.Skipped and left unseen. The session is logged out on every path.
func (f *Fetcher) FetchUnseenFrom(ctx context.Context, sender string) (*Result, error) {
	sess, err := f.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox session: %w", err)
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			slog.Warn("mailbox logout failed", "error", err)
		}
	}()

	if err := sess.Select(ctx, f.mailbox); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %q: %w", f.mailbox, err)
	}

	result := &Result{}

	uids, err := sess.SearchUnseenFrom(ctx, sender)
	if err != nil {
		slog.Warn("mailbox search failed", "sender", sender, "error", err)
		return result, nil
	}

	slog.Debug("unseen messages found", "sender", sender, "count", len(uids))

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		msg, err := f.process(ctx, sess, uid)
		if err != nil {
			slog.Warn("skipping message", "uid", uid, "error", err)
			result.Skipped = append(result.Skipped, Skipped{UID: uid, Err: err})
			continue
		}
		result.Messages = append(result.Messages, *msg)
	}

	return result, nil
}

// process fetches and parses one message, then flags it as seen. A failure to
// set the flag is logged but does not discard the message.
func (f *Fetcher) process(ctx context.Context, sess Session, uid uint32) (*email.Message, error) {
	raw, err := sess.FetchRaw(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	msg.UID = uid

	if err := sess.MarkSeen(ctx, uid); err != nil {
		slog.Warn("failed to mark message as seen", "uid", uid, "error", err)
	}

	slog.Info("message processed",
		"uid", uid,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)

	return msg, nil
}
