// Package parser turns raw RFC 5322 messages fetched from the mailbox into
// email.Message values, decoding encoded headers and attachment payloads.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/inbox-relay/internal/email"
)

// maxPartDepth bounds multipart nesting.
const maxPartDepth = 16

// Parse parses a raw RFC 5322 message. The subject and attachment filenames
// are decoded from RFC 2047 encoded words (and RFC 2231 parameters) using the
// declared charset, UTF-8 when none is declared. Only parts whose
// Content-Disposition mentions "attachment" and that carry a filename are
// kept as attachments. Their payload is transfer-decoded and otherwise left
// byte for byte as sent, whatever charset a text part declares.
func Parse(raw []byte) (*email.Message, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	hdr := message.Header{Header: th}
	result := &email.Message{
		Subject: decodeSubject(mail.Header{Header: hdr}),
		From:    decodeFrom(mail.Header{Header: hdr}),
	}

	// A broken trailing part should not cost us the attachments already read.
	if err := walkParts(hdr, br, 0, result); err != nil {
		slog.Warn("failed to read MIME structure", "error", err)
	}

	return result, nil
}

// walkParts descends into multipart bodies and collects attachment leaves
// into msg.
func walkParts(hdr message.Header, body io.Reader, depth int, msg *email.Message) error {
	mediaType, params, _ := hdr.ContentType()
	if !strings.HasPrefix(strings.ToLower(mediaType), "multipart/") {
		att, ok, err := readAttachment(hdr, body)
		if err != nil {
			slog.Warn("failed to read attachment part", "error", err)
			return nil
		}
		if ok {
			msg.Attachments = append(msg.Attachments, att)
		}
		return nil
	}

	if depth >= maxPartDepth {
		return fmt.Errorf("multipart nesting deeper than %d levels", maxPartDepth)
	}

	mr := textproto.NewMultipartReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next MIME part: %w", err)
		}
		if err := walkParts(message.Header{Header: part.Header}, part, depth+1, msg); err != nil {
			return err
		}
	}
}

// readAttachment reports whether the leaf part is an attachment and, if so,
// returns it with its decoded filename and payload.
func readAttachment(hdr message.Header, body io.Reader) (email.Attachment, bool, error) {
	disposition := strings.ToLower(hdr.Get("Content-Disposition"))
	if !strings.Contains(disposition, "attachment") {
		return email.Attachment{}, false, nil
	}

	ah := mail.AttachmentHeader{Header: hdr}
	filename, err := ah.Filename()
	if err != nil {
		// Keep the undecoded value rather than dropping the file.
		slog.Warn("failed to decode attachment filename", "error", err)
	}
	if filename == "" {
		return email.Attachment{}, false, nil
	}

	content, err := decodeBody(hdr, body)
	if err != nil {
		return email.Attachment{}, false, fmt.Errorf("failed to read %q: %w", filename, err)
	}

	contentType, _, err := ah.ContentType()
	if err != nil || contentType == "" {
		contentType = "application/octet-stream"
	}

	return email.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}, true, nil
}

// decodeBody undoes the Content-Transfer-Encoding of a leaf part. The
// Content-Type is dropped from the header handed to message.New so that no
// charset conversion is applied.
func decodeBody(hdr message.Header, body io.Reader) ([]byte, error) {
	bare := hdr.Copy()
	bare.Del("Content-Type")

	entity, err := message.New(bare, body)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(entity.Body)
}

// decodeSubject returns the decoded Subject header, falling back to the raw
// header value when decoding fails.
func decodeSubject(h mail.Header) string {
	subject, err := h.Subject()
	if err != nil {
		slog.Warn("failed to decode subject", "error", err)
		return h.Get("Subject")
	}
	return subject
}

func decodeFrom(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return h.Get("From")
	}
	return addrs[0].Address
}
