package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shineum/inbox-relay/internal/email"
	"github.com/shineum/inbox-relay/internal/mailbox"
	"github.com/shineum/inbox-relay/internal/pdf"
)

type call struct {
	kind    string
	payload string
}

// recordingChannel records every call and fails the ones listed in failOn.
type recordingChannel struct {
	calls  []call
	failOn map[string]error
}

func (c *recordingChannel) SendText(_ context.Context, text string) error {
	c.calls = append(c.calls, call{kind: "text", payload: text})
	return c.failOn[text]
}

func (c *recordingChannel) SendDocument(_ context.Context, filename string, _ []byte) error {
	c.calls = append(c.calls, call{kind: "document", payload: filename})
	return c.failOn[filename]
}

func (c *recordingChannel) Name() string { return "recording" }

type fakeMail struct {
	result *mailbox.Result
	err    error
	sender string
}

func (m *fakeMail) FetchUnseenFrom(_ context.Context, sender string) (*mailbox.Result, error) {
	m.sender = sender
	return m.result, m.err
}

type fakeDocs struct {
	body []byte
	err  error
	url  string
}

func (d *fakeDocs) Fetch(_ context.Context, url string) ([]byte, error) {
	d.url = url
	return d.body, d.err
}

var testConfig = Config{
	Sender:       "news@birrificio.example",
	PDFURL:       "https://example.com/volantini/menu-settimana.pdf",
	SubjectLabel: "🍻 Birrificio: ",
	PDFLabel:     "🏪 Iperal: Menu settimana del ",
}

func attachment(name string) email.Attachment {
	return email.Attachment{Filename: name, ContentType: "application/pdf", Content: []byte(name)}
}

func TestFormatSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Fwd: Birra Weekend Special", "Birra weekend special"},
		{"FWD:   birra weekend SPECIAL  ", "Birra weekend special"},
		{"fWd:Fwd: Doppio malto", "Doppio malto"},
		{"Nuove birre", "Nuove birre"},
		{"élite selection", "Élite selection"},
		{"Fwd:", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FormatSubject(tt.in); got != tt.want {
			t.Errorf("FormatSubject(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMailToChannel_NoNewMail(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ch := &recordingChannel{}
	mail := &fakeMail{result: &mailbox.Result{}}
	r := New(testConfig, mail, nil, ch)

	report, err := r.MailToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ch.calls) != 0 {
		t.Errorf("channel calls: got %d, want 0", len(ch.calls))
	}
	if report.Messages != 0 {
		t.Errorf("Messages: got %d, want 0", report.Messages)
	}
	if !strings.Contains(logs.String(), "no new emails") {
		t.Errorf("log output %q should contain %q", logs.String(), "no new emails")
	}
	if mail.sender != "news@birrificio.example" {
		t.Errorf("sender: got %q, want %q", mail.sender, "news@birrificio.example")
	}
}

func TestMailToChannel_MessagesWithoutAttachments(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{{UID: 1, Subject: "Just text"}},
	}}

	report, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.calls) != 0 {
		t.Errorf("channel calls: got %d, want 0", len(ch.calls))
	}
	if report.Messages != 1 {
		t.Errorf("Messages: got %d, want 1", report.Messages)
	}
}

func TestMailToChannel_SendsSubjectThenDocuments(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{
			{UID: 1, Subject: "Fwd: Birra Weekend Special", Attachments: []email.Attachment{attachment("menu.pdf"), attachment("prezzi.pdf")}},
		},
	}}

	report, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []call{
		{"text", "🍻 Birrificio: Birra weekend special"},
		{"document", "menu.pdf"},
		{"document", "prezzi.pdf"},
	}
	assertCalls(t, ch.calls, want)

	if report.TextsSent != 1 {
		t.Errorf("TextsSent: got %d, want 1", report.TextsSent)
	}
	if report.Failures() != 0 {
		t.Errorf("Failures(): got %d, want 0", report.Failures())
	}
}

func TestMailToChannel_EachMessageKeepsItsSubject(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{
			{UID: 1, Subject: "A", Attachments: []email.Attachment{attachment("a.pdf")}},
			{UID: 2, Subject: "no attachments here"},
			{UID: 3, Subject: "B", Attachments: []email.Attachment{attachment("b.pdf")}},
		},
	}}

	if _, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []call{
		{"text", "🍻 Birrificio: A"},
		{"document", "a.pdf"},
		{"text", "🍻 Birrificio: B"},
		{"document", "b.pdf"},
	}
	assertCalls(t, ch.calls, want)
}

func TestMailToChannel_NoSubjectSendsOnlyDocuments(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{
			{UID: 1, Attachments: []email.Attachment{attachment("a.pdf")}},
		},
	}}

	if _, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertCalls(t, ch.calls, []call{{"document", "a.pdf"}})
}

func TestMailToChannel_DocumentFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("HTTP 413")
	ch := &recordingChannel{failOn: map[string]error{"one.pdf": sendErr}}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{
			{UID: 1, Subject: "Batch", Attachments: []email.Attachment{
				attachment("one.pdf"), attachment("two.pdf"), attachment("three.pdf"),
			}},
		},
	}}

	report, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	documents := 0
	for _, c := range ch.calls {
		if c.kind == "document" {
			documents++
		}
	}
	if documents != 3 {
		t.Errorf("document calls: got %d, want 3", documents)
	}
	if report.Failures() != 1 {
		t.Errorf("Failures(): got %d, want 1", report.Failures())
	}
	if !errors.Is(report.Deliveries[0].Err, sendErr) {
		t.Errorf("Deliveries[0].Err: got %v, want %v", report.Deliveries[0].Err, sendErr)
	}
}

func TestMailToChannel_TextFailureStillSendsDocuments(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{failOn: map[string]error{"🍻 Birrificio: Broken": errors.New("HTTP 400")}}
	mail := &fakeMail{result: &mailbox.Result{
		Messages: []email.Message{
			{UID: 1, Subject: "Broken", Attachments: []email.Attachment{attachment("a.pdf")}},
		},
	}}

	report, err := New(testConfig, mail, nil, ch).MailToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.calls) != 2 {
		t.Errorf("channel calls: got %d, want 2", len(ch.calls))
	}
	if len(report.TextErrors) != 1 {
		t.Errorf("TextErrors: got %d, want 1", len(report.TextErrors))
	}
}

func TestMailToChannel_MailboxErrorIsReturned(t *testing.T) {
	t.Parallel()

	authErr := &mailbox.AuthError{Username: "me@example.com", Err: errors.New("NO")}
	ch := &recordingChannel{}

	_, err := New(testConfig, &fakeMail{err: authErr}, nil, ch).MailToChannel(context.Background())
	if !errors.Is(err, authErr) {
		t.Errorf("error: got %v, want %v", err, authErr)
	}
	if len(ch.calls) != 0 {
		t.Errorf("channel calls: got %d, want 0", len(ch.calls))
	}
}

func TestPDFToChannel_Success(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	docs := &fakeDocs{body: []byte("%PDF-1.7")}
	r := New(testConfig, nil, docs, ch)
	r.now = func() time.Time { return time.Date(2026, 3, 5, 8, 0, 0, 0, time.Local) }

	report, err := r.PDFToChannel(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if docs.url != testConfig.PDFURL {
		t.Errorf("fetched URL: got %q, want %q", docs.url, testConfig.PDFURL)
	}

	want := []call{
		{"text", "🏪 Iperal: Menu settimana del 05/03/2026"},
		{"document", "menu-settimana.pdf"},
	}
	assertCalls(t, ch.calls, want)

	if report.TextsSent != 1 || len(report.Deliveries) != 1 {
		t.Errorf("report: got %+v", report)
	}
}

func TestPDFToChannel_UsesCurrentDate(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	r := New(testConfig, nil, &fakeDocs{body: []byte("pdf")}, ch)

	if _, err := r.PDFToChannel(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	today := time.Now().Format("02/01/2006")
	if len(ch.calls) == 0 || !strings.Contains(ch.calls[0].payload, today) {
		t.Errorf("text message %v should contain %q", ch.calls, today)
	}
}

func TestPDFToChannel_FetchFailureSendsNothing(t *testing.T) {
	t.Parallel()

	ch := &recordingChannel{}
	docs := &fakeDocs{err: &pdf.StatusError{StatusCode: 503}}

	report, err := New(testConfig, nil, docs, ch).PDFToChannel(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if report != nil {
		t.Errorf("report: got %+v, want nil", report)
	}

	var statusErr *pdf.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 503 {
		t.Errorf("error: got %v, want *pdf.StatusError with 503", err)
	}
	if len(ch.calls) != 0 {
		t.Errorf("channel calls: got %d, want 0", len(ch.calls))
	}
}

func assertCalls(t *testing.T, got, want []call) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("calls[%d]: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
