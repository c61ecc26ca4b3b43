package email

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	jwemail "github.com/jordan-wright/email"
)

// ErrEmptyReply is returned when a reply has no text.
var ErrEmptyReply = errors.New("reply text is required")

// Reply is a composed response to a record.
type Reply struct {
	InReplyTo string
	From      string
	To        string
	Subject   string
	Text      string
	Raw       []byte // RFC 5322 message
}

// ComposeReply builds a reply to orig. When from is empty the original
// recipient answers.
func ComposeReply(orig Record, text, from string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyReply
	}
	if from == "" {
		from = orig.Recipient
	}

	e := jwemail.NewEmail()
	e.From = from
	e.To = []string{orig.Sender}
	e.Subject = ReplySubject(orig.Subject)
	e.Text = []byte(text)
	e.Headers.Set("In-Reply-To", messageID(orig.ID))
	e.Headers.Set("References", messageID(orig.ID))

	raw, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("compose reply: %w", err)
	}

	return &Reply{
		InReplyTo: orig.ID,
		From:      from,
		To:        orig.Sender,
		Subject:   e.Subject,
		Text:      text,
		Raw:       raw,
	}, nil
}

// Record returns the reply as a sent-folder record.
func (r *Reply) Record() Record {
	return Record{
		ID:          NewID(),
		Sender:      r.From,
		Recipient:   r.To,
		Subject:     r.Subject,
		Body:        r.Text,
		Timestamp:   Now(),
		IsRead:      true,
		Folder:      FolderSent,
		Attachments: []string{},
		Raw:         slices.Clone(r.Raw),
	}
}

// ReplySubject prefixes subject with "RE: " unless it already carries one.
func ReplySubject(subject string) string {
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "RE: " + subject
}

func messageID(id string) string {
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
