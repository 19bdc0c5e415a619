package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/shineum/inbox-relay/internal/email"
)

type recordingChannel struct {
	failOn map[string]error
	sent   []string
}

func (c *recordingChannel) SendText(context.Context, string) error { return nil }

func (c *recordingChannel) SendDocument(_ context.Context, filename string, _ []byte) error {
	c.sent = append(c.sent, filename)
	return c.failOn[filename]
}

func (c *recordingChannel) Name() string { return "recording" }

func TestSendDocuments_FailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("HTTP 500")
	ch := &recordingChannel{failOn: map[string]error{"one.pdf": sendErr}}

	deliveries := SendDocuments(context.Background(), ch, []email.Attachment{
		{Filename: "one.pdf", Content: []byte("1")},
		{Filename: "two.pdf", Content: []byte("2")},
		{Filename: "three.pdf", Content: []byte("3")},
	})

	if len(ch.sent) != 3 {
		t.Fatalf("send calls: got %d, want 3", len(ch.sent))
	}
	if len(deliveries) != 3 {
		t.Fatalf("deliveries: got %d, want 3", len(deliveries))
	}
	if !errors.Is(deliveries[0].Err, sendErr) {
		t.Errorf("deliveries[0].Err: got %v, want %v", deliveries[0].Err, sendErr)
	}
	if deliveries[1].Err != nil || deliveries[2].Err != nil {
		t.Errorf("later deliveries should succeed: got %v, %v", deliveries[1].Err, deliveries[2].Err)
	}
	if got := Failed(deliveries); got != 1 {
		t.Errorf("Failed(): got %d, want 1", got)
	}
}

func TestSendDocuments_Empty(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	deliveries := SendDocuments(context.Background(), ch, nil)

	if len(deliveries) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(deliveries))
	}
	if len(ch.sent) != 0 {
		t.Errorf("send calls: got %d, want 0", len(ch.sent))
	}
}
