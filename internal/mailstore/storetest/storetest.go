// Package storetest holds the behaviour every mailstore.Store must share.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
)

// Run exercises a store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) mailstore.Store) {
	t.Helper()

	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, newStore(t)) })
	t.Run("SetRead", func(t *testing.T) { testSetRead(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Count", func(t *testing.T) { testCount(t, newStore(t)) })
	t.Run("Raw", func(t *testing.T) { testRaw(t, newStore(t)) })
}

func record(id string, folder email.Folder, read bool) email.Record {
	return email.Record{
		ID:          id,
		Sender:      "alice@example.com",
		Recipient:   "user@example.com",
		Subject:     "Subject " + id,
		Body:        "<p>Body " + id + "</p>",
		Timestamp:   "2024-03-01T09:00:00Z",
		IsRead:      read,
		Folder:      folder,
		Attachments: []string{"notes.pdf"},
	}
}

func testInsertGet(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	want := record("e1", email.FolderInbox, false)
	if err := s.Insert(ctx, want); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	empty := record("e2", email.FolderInbox, false)
	empty.Attachments = []string{}
	if err := s.Insert(ctx, empty); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err = s.Get(ctx, "e2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attachments == nil || len(got.Attachments) != 0 {
		t.Errorf("attachments = %#v, want empty non-nil slice", got.Attachments)
	}
}

func testInsertDuplicate(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("dup", email.FolderInbox, false)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, record("dup", email.FolderSent, true)); !errors.Is(err, mailstore.ErrExists) {
		t.Fatalf("second Insert err = %v, want ErrExists", err)
	}
	got, _ := s.Get(ctx, "dup")
	if got.Folder != email.FolderInbox {
		t.Errorf("duplicate insert overwrote the record")
	}
}

func testGetMissing(t *testing.T, s mailstore.Store) {
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, mailstore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func testListFilter(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	for _, r := range []email.Record{
		record("in-unread", email.FolderInbox, false),
		record("in-read", email.FolderInbox, true),
		record("sent", email.FolderSent, true),
	} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter mailstore.Filter
		want   []string
	}{
		{"all", mailstore.Filter{}, []string{"in-read", "in-unread", "sent"}},
		{"inbox", mailstore.Filter{Folder: email.FolderInbox}, []string{"in-read", "in-unread"}},
		{"sent", mailstore.Filter{Folder: email.FolderSent}, []string{"sent"}},
		{"unread inbox", mailstore.Filter{Folder: email.FolderInbox, UnreadOnly: true}, []string{"in-unread"}},
	}
	for _, tt := range tests {
		recs, err := s.List(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: List: %v", tt.name, err)
		}
		got := ids(recs)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: ids (-want +got):\n%s", tt.name, diff)
		}
	}
}

func testSetRead(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("r", email.FolderInbox, false)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRead(ctx, "r", true); err != nil {
		t.Fatalf("SetRead: %v", err)
	}
	got, _ := s.Get(ctx, "r")
	if !got.IsRead {
		t.Error("IsRead = false after SetRead(true)")
	}
	if err := s.SetRead(ctx, "r", false); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "r")
	if got.IsRead {
		t.Error("IsRead = true after SetRead(false)")
	}
	if err := s.SetRead(ctx, "nope", true); !errors.Is(err, mailstore.ErrNotFound) {
		t.Errorf("SetRead missing err = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("d", email.FolderInbox, false)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "d"); !errors.Is(err, mailstore.ErrNotFound) {
		t.Errorf("Get after Delete err = %v", err)
	}
	if err := s.Delete(ctx, "d"); !errors.Is(err, mailstore.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func testCount(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	n, err := s.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Count on empty store = %d, %v", n, err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.Insert(ctx, record(id, email.FolderInbox, false)); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func testRaw(t *testing.T, s mailstore.Store) {
	ctx := context.Background()
	raw := []byte("From: me@example.com\r\nIn-Reply-To: <e0>\r\nSubject: RE: hi\r\n\r\nthanks\r\n")

	sent := record("sent", email.FolderSent, true)
	sent.Raw = slices.Clone(raw)
	if err := s.Insert(ctx, sent); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	sent.Raw[0] = 'X'

	got, err := s.Get(ctx, "sent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(raw, got.Raw); diff != "" {
		t.Errorf("raw (-want +got):\n%s", diff)
	}

	if err := s.Insert(ctx, record("plain", email.FolderInbox, false)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, _ = s.Get(ctx, "plain")
	if got.Raw != nil {
		t.Errorf("raw = %q, want nil for a record stored without one", got.Raw)
	}
}

// ids returns record ids sorted, so stores need not agree on order.
func ids(recs []email.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	slices.Sort(out)
	return out
}
