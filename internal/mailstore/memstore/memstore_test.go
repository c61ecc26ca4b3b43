package memstore_test

import (
	"context"
	"testing"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
	"github.com/linnemanlabs/courier/internal/mailstore/memstore"
	"github.com/linnemanlabs/courier/internal/mailstore/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) mailstore.Store { return memstore.New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	ctx := context.Background()
	r := email.Record{ID: "a", Folder: email.FolderInbox, Attachments: []string{"x"}}
	if err := s.Insert(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Attachments[0] = "mutated"

	got, _ := s.Get(ctx, "a")
	if got.Attachments[0] != "x" {
		t.Error("store aliases the inserted record")
	}
	got.Attachments[0] = "again"
	again, _ := s.Get(ctx, "a")
	if again.Attachments[0] != "x" {
		t.Error("store aliases the returned record")
	}
}

func TestStore_ListKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_ = s.Insert(ctx, email.Record{ID: id, Folder: email.FolderInbox})
	}
	_ = s.Delete(ctx, "a")

	recs, _ := s.List(ctx, mailstore.Filter{})
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Errorf("order = %v", recs)
	}
}
