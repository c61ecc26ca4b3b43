// Package mailstore is the mailbox that feeds triage jobs and receives the
// replies they send. Storage backends live in the memstore, sqlitestore and
// pgstore subpackages.
package mailstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/email"
)

var (
	ErrNotFound = errors.New("email not found")
	ErrExists   = errors.New("email already exists")
	ErrNoSource = errors.New("email has no stored source")
)

// DefaultOwner is the mailbox address used when none is configured.
const DefaultOwner = "user@example.com"

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Folder     email.Folder
	UnreadOnly bool
}

// Match reports whether r passes the filter.
func (f Filter) Match(r email.Record) bool {
	if f.Folder != "" && r.Folder != f.Folder {
		return false
	}
	if f.UnreadOnly && r.IsRead {
		return false
	}
	return true
}

// Store persists mailbox records.
type Store interface {
	Insert(ctx context.Context, r email.Record) error
	Get(ctx context.Context, id string) (email.Record, error)
	List(ctx context.Context, f Filter) ([]email.Record, error)
	SetRead(ctx context.Context, id string, read bool) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Mailbox applies mailbox rules on top of a Store.
type Mailbox struct {
	store  Store
	owner  string
	logger log.Logger
}

// New returns a mailbox owned by owner. An empty owner uses DefaultOwner.
func New(store Store, owner string, logger log.Logger) *Mailbox {
	if owner == "" {
		owner = DefaultOwner
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Mailbox{store: store, owner: owner, logger: logger}
}

// Owner returns the mailbox address.
func (m *Mailbox) Owner() string { return m.owner }

// List returns the records in folder, newest first. An empty folder lists
// everything.
func (m *Mailbox) List(ctx context.Context, folder email.Folder) ([]email.Record, error) {
	if folder != "" && !folder.Valid() {
		return nil, fmt.Errorf("%w: %q", email.ErrInvalidFolder, folder)
	}
	recs, err := m.store.List(ctx, Filter{Folder: folder})
	if err != nil {
		return nil, err
	}
	NewestFirst(recs)
	return recs, nil
}

// Unread returns unread inbox mail, oldest first.
func (m *Mailbox) Unread(ctx context.Context) ([]email.Record, error) {
	recs, err := m.store.List(ctx, Filter{Folder: email.FolderInbox, UnreadOnly: true})
	if err != nil {
		return nil, err
	}
	email.SortByTimestamp(recs)
	return recs, nil
}

// Open returns a record and marks inbox mail as read.
func (m *Mailbox) Open(ctx context.Context, id string) (email.Record, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return email.Record{}, err
	}
	if r.Folder == email.FolderInbox && !r.IsRead {
		if err := m.store.SetRead(ctx, id, true); err != nil {
			return email.Record{}, err
		}
		r.IsRead = true
	}
	return r, nil
}

// Compose stores a new record. Mail sent by the owner is filed under sent,
// everything else under inbox.
func (m *Mailbox) Compose(ctx context.Context, in email.Input) (email.Record, error) {
	in.Folder = email.FolderInbox
	if in.Sender == m.owner {
		in.Folder = email.FolderSent
	}
	r := in.Record()
	if err := r.Validate(); err != nil {
		return email.Record{}, err
	}
	if err := m.store.Insert(ctx, r); err != nil {
		return email.Record{}, err
	}
	return r, nil
}

// Source returns the RFC 5322 message stored with a record. Only replies
// composed by courier carry one.
func (m *Mailbox) Source(ctx context.Context, id string) ([]byte, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(r.Raw) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSource, id)
	}
	return r.Raw, nil
}

// SetRead updates the read flag and returns the updated record.
func (m *Mailbox) SetRead(ctx context.Context, id string, read bool) (email.Record, error) {
	if err := m.store.SetRead(ctx, id, read); err != nil {
		return email.Record{}, err
	}
	return m.store.Get(ctx, id)
}

// Delete removes a record.
func (m *Mailbox) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Reply answers the record id as the owner and files the reply under sent.
func (m *Mailbox) Reply(ctx context.Context, id, text string) (email.Record, error) {
	orig, err := m.store.Get(ctx, id)
	if err != nil {
		return email.Record{}, err
	}
	reply, err := email.ComposeReply(orig, text, m.owner)
	if err != nil {
		return email.Record{}, err
	}
	return m.file(ctx, reply)
}

// Deliver files a reply composed by the automation stage.
func (m *Mailbox) Deliver(ctx context.Context, reply *email.Reply) error {
	r, err := m.file(ctx, reply)
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "reply filed", "email_id", r.ID, "in_reply_to", reply.InReplyTo, "to", reply.To)
	return nil
}

func (m *Mailbox) file(ctx context.Context, reply *email.Reply) (email.Record, error) {
	r := reply.Record()
	if err := m.store.Insert(ctx, r); err != nil {
		return email.Record{}, fmt.Errorf("file reply: %w", err)
	}
	return r, nil
}

// Seed fills an empty store with the sample mailbox and returns how many
// records were added.
func (m *Mailbox) Seed(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	seeds := SeedRecords(m.owner)
	for _, r := range seeds {
		if err := m.store.Insert(ctx, r); err != nil {
			return 0, fmt.Errorf("seed %s: %w", r.ID, err)
		}
	}
	return len(seeds), nil
}

// SeedRecords returns the sample mailbox: two unread inbox messages and
// one sent message.
func SeedRecords(owner string) []email.Record {
	now := email.Now()
	return []email.Record{
		{
			ID:          email.NewID(),
			Sender:      "john.doe@example.com",
			Recipient:   owner,
			Subject:     "Welcome to the Email App",
			Body:        "This is a sample email to get you started with the Email Application.",
			Timestamp:   now,
			Folder:      email.FolderInbox,
			Attachments: []string{},
		},
		{
			ID:          email.NewID(),
			Sender:      "support@example.com",
			Recipient:   owner,
			Subject:     "Your Account Information",
			Body:        "Thank you for registering with our service. Here is some important information about your account.",
			Timestamp:   now,
			Folder:      email.FolderInbox,
			Attachments: []string{},
		},
		{
			ID:          email.NewID(),
			Sender:      owner,
			Recipient:   "contact@example.com",
			Subject:     "Inquiry about Services",
			Body:        "I would like to learn more about the services you offer. Please provide me with additional information.",
			Timestamp:   now,
			IsRead:      true,
			Folder:      email.FolderSent,
			Attachments: []string{},
		},
	}
}

// NewestFirst sorts records by timestamp, newest first.
func NewestFirst(recs []email.Record) {
	email.SortByTimestamp(recs)
	slices.Reverse(recs)
}
