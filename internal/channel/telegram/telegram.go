// Package telegram implements a Channel that posts to a Telegram chat through
// the Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 4096

// Config holds the configuration for creating a Channel.
type Config struct {
	BotToken  string
	ChannelID string
	// APIURL is the Bot API root, normally https://api.telegram.org.
	APIURL string
}

// Channel sends messages and documents to one Telegram chat.
type Channel struct {
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// APIError is returned when the Bot API answers with a non-200 status.
type APIError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (HTTP %d): %s", e.Method, e.StatusCode, e.Body)
}

// New creates a new Channel with the given configuration.
func New(cfg Config) *Channel {
	return NewWithClient(cfg, &http.Client{Timeout: 30 * time.Second})
}

// NewWithClient creates a Channel with a custom HTTP client.
func NewWithClient(cfg Config, client *http.Client) *Channel {
	return &Channel{
		chatID:     cfg.ChannelID,
		baseURL:    strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.BotToken,
		httpClient: client,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "telegram"
}

// SendText posts text with the sendMessage method.
func (c *Channel) SendText(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id": {c.chatID},
		"text":    {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, "sendMessage")
}

// SendDocument uploads content as a file named filename with the
// sendDocument method.
func (c *Channel) SendDocument(ctx context.Context, filename string, content []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", c.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("failed to create document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to write document part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendDocument", &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, "sendDocument")
}

// do performs a single request. Transport errors are stripped of the request
// URL, which embeds the bot token.
func (c *Channel) do(req *http.Request, method string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Method:     method,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
