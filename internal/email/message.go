// Package email defines the in-memory mail data model shared by the fetcher
// and the relay flows.
package email

// Message is a mailbox message reduced to what the relay needs. It is never
// persisted.
type Message struct {
	UID         uint32
	From        string
	Subject     string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// HasAttachments reports whether the message carries at least one attachment.
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}
