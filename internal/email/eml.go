package email

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charsets
	"github.com/emersion/go-message/mail"
)

// ParseEML reads an RFC 5322 message into a record. The first text/plain part
// becomes the body; when there is none, the first text/html part is used.
// Attachment filenames become attachment references.
func ParseEML(r io.Reader) (Record, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Record{}, fmt.Errorf("read message: %w", err)
	}
	defer func() { _ = mr.Close() }()

	h := mr.Header
	rec := Record{
		Folder:      FolderInbox,
		Attachments: []string{},
	}

	if id, err := h.MessageID(); err == nil {
		rec.ID = id
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		rec.Sender = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		rec.Recipient = to[0].Address
	}
	if subject, err := h.Subject(); err == nil {
		rec.Subject = subject
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		rec.Timestamp = date.UTC().Format(time.RFC3339)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Record{}, fmt.Errorf("read part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return Record{}, fmt.Errorf("read body: %w", err)
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && plain == "":
				plain = string(b)
			case strings.HasPrefix(ct, "text/html") && html == "":
				html = string(b)
			}
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			if name == "" {
				name = "attachment"
			}
			rec.Attachments = append(rec.Attachments, name)
		}
	}

	switch {
	case plain != "":
		rec.Body = strings.TrimSpace(plain)
	case html != "":
		rec.Body = PlainBody(html)
	}

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = Now()
	}
	return rec, nil
}
