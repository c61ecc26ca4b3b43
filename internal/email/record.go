// Package email defines the email record that flows through triage and the
// helpers that move it between wire formats (API input, .eml files, replies).
package email

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Folder is the mailbox folder a record lives in.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
)

// Valid reports whether f is a known folder.
func (f Folder) Valid() bool {
	return f == FolderInbox || f == FolderSent
}

var (
	ErrMissingID        = errors.New("email id is required")
	ErrMissingSender    = errors.New("sender is required")
	ErrMissingRecipient = errors.New("recipient is required")
	ErrInvalidFolder    = errors.New("folder must be inbox or sent")
	ErrInvalidAddress   = errors.New("malformed address")
)

// Record is a single email. It is treated as immutable once ingested.
type Record struct {
	ID          string   `json:"id"`
	Sender      string   `json:"sender"`
	Recipient   string   `json:"recipient"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Timestamp   string   `json:"timestamp"`
	IsRead      bool     `json:"is_read"`
	Folder      Folder   `json:"folder"`
	Attachments []string `json:"attachments"`

	// Raw is the RFC 5322 source of mail composed here, served on its own
	// endpoint rather than inline.
	Raw []byte `json:"-"`
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, ErrMissingID)
	}
	if strings.TrimSpace(r.Sender) == "" {
		errs = append(errs, ErrMissingSender)
	} else if _, err := mail.ParseAddress(r.Sender); err != nil {
		errs = append(errs, fmt.Errorf("%w: sender %q", ErrInvalidAddress, r.Sender))
	}
	if strings.TrimSpace(r.Recipient) == "" {
		errs = append(errs, ErrMissingRecipient)
	} else if _, err := mail.ParseAddress(r.Recipient); err != nil {
		errs = append(errs, fmt.Errorf("%w: recipient %q", ErrInvalidAddress, r.Recipient))
	}
	if !r.Folder.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidFolder, r.Folder))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy so callers cannot mutate shared attachment slices.
func (r Record) Clone() Record {
	r.Attachments = slices.Clone(r.Attachments)
	if r.Attachments == nil {
		r.Attachments = []string{}
	}
	r.Raw = slices.Clone(r.Raw)
	return r
}

// Input is the API representation of a record. Optional fields are defaulted
// by Record.
type Input struct {
	ID          string   `json:"id,omitempty"`
	Sender      string   `json:"sender"`
	Recipient   string   `json:"recipient"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Timestamp   string   `json:"timestamp,omitempty"`
	IsRead      bool     `json:"is_read"`
	Folder      Folder   `json:"folder,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Record converts the input into a record, generating an id and timestamp
// when the caller left them out.
func (in Input) Record() Record {
	r := Record{
		ID:          strings.TrimSpace(in.ID),
		Sender:      in.Sender,
		Recipient:   in.Recipient,
		Subject:     in.Subject,
		Body:        in.Body,
		Timestamp:   in.Timestamp,
		IsRead:      in.IsRead,
		Folder:      in.Folder,
		Attachments: slices.Clone(in.Attachments),
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Timestamp == "" {
		r.Timestamp = Now()
	}
	if r.Folder == "" {
		r.Folder = FolderInbox
	}
	if r.Attachments == nil {
		r.Attachments = []string{}
	}
	return r
}

// NewID returns a fresh random record id.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time formatted as a record timestamp.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SortByTimestamp orders records oldest first. Records with equal or
// unparseable timestamps keep their relative order.
func SortByTimestamp(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		ta, errA := time.Parse(time.RFC3339Nano, a.Timestamp)
		tb, errB := time.Parse(time.RFC3339Nano, b.Timestamp)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
		return strings.Compare(a.Timestamp, b.Timestamp)
	})
}
