// Package stdout implements a Channel that prints relayed items to standard
// output. It is meant for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Channel prints messages and document summaries in a human-readable format.
type Channel struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Channel that writes to os.Stdout.
func New() *Channel {
	return &Channel{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Channel that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Channel {
	return &Channel{writer: w}
}

// SendText prints the text message.
func (c *Channel) SendText(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.writer, "[message] %s\n", text)
	return err
}

// SendDocument prints the document name and size. The content itself is not
// written.
func (c *Channel) SendDocument(_ context.Context, filename string, content []byte) error {
	_, err := fmt.Fprintf(c.writer, "[document] %s (%s)\n", filename, formatSize(len(content)))
	return err
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
