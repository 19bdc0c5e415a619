// Package ses implements a Channel that relays notices and documents as
// emails through AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/emersion/go-message/mail"
)

// maxSubjectRunes keeps text-derived subjects readable in mail clients.
const maxSubjectRunes = 78

// Config holds the configuration for creating a Channel.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	Recipient       string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Channel sends every item as a separate email to one recipient.
type Channel struct {
	sender    string
	recipient string
	client    SendEmailAPI
}

// New creates a new Channel with the given configuration.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, cfg.Recipient, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Channel with a custom client, used for testing.
func NewWithClient(sender, recipient string, client SendEmailAPI) *Channel {
	return &Channel{
		sender:    sender,
		recipient: recipient,
		client:    client,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "ses"
}

// SendText sends text as a plain email whose subject is the first line of
// the text.
func (c *Channel) SendText(ctx context.Context, text string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender),
		Destination: &types.Destination{
			ToAddresses: []string{c.recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subjectFromText(text)),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := c.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES SendEmail failed: %w", err)
	}
	return nil
}

// SendDocument sends content as the single attachment of a raw MIME email.
func (c *Channel) SendDocument(ctx context.Context, filename string, content []byte) error {
	raw, err := buildRawMessage(c.sender, c.recipient, filename, content)
	if err != nil {
		return fmt.Errorf("failed to build raw message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}

	if _, err := c.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES SendEmail failed: %w", err)
	}
	return nil
}

// subjectFromText returns the first line of text, shortened to
// maxSubjectRunes.
func subjectFromText(text string) string {
	subject, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	subject = strings.TrimSpace(subject)
	if utf8.RuneCountInString(subject) <= maxSubjectRunes {
		return subject
	}
	runes := []rune(subject)
	return string(runes[:maxSubjectRunes-1]) + "…"
}

// buildRawMessage constructs a multipart/mixed message carrying one
// attachment. Non-ASCII filenames are written as RFC 2231 parameters.
func buildRawMessage(sender, recipient, filename string, content []byte) ([]byte, error) {
	var h mail.Header
	h.Set("From", sender)
	h.Set("To", recipient)
	h.SetSubject(filename)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))

	part, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write attachment part: %w", err)
	}
	if err := part.Close(); err != nil {
		return nil, fmt.Errorf("failed to close attachment part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
