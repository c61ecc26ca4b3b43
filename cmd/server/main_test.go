package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	vc "github.com/linnemanlabs/courier/internal/cfg"
	"github.com/linnemanlabs/courier/internal/mailstore/memstore"
	"github.com/linnemanlabs/courier/internal/mailstore/sqlitestore"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestOpenMailStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s, closeFn, err := openMailStore(ctx, &vc.Config{MailStore: vc.StoreMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	closeFn()
	if _, ok := s.(*memstore.Store); !ok {
		t.Errorf("memory backend = %T", s)
	}

	path := filepath.Join(t.TempDir(), "mail", "courier.db")
	s, closeFn, err = openMailStore(ctx, &vc.Config{MailStore: vc.StoreSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*sqlitestore.Store); !ok {
		t.Errorf("sqlite backend = %T", s)
	}
	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Errorf("fresh sqlite Count = %d, %v", n, err)
	}
}

func TestOpenMailStore_PostgresUnreachable(t *testing.T) {
	t.Parallel()

	_, _, err := openMailStore(context.Background(), &vc.Config{
		MailStore:   vc.StorePostgres,
		DatabaseURL: "postgres://%zz",
	})
	if err == nil || !strings.Contains(err.Error(), "postgres pool") {
		t.Errorf("err = %v, want postgres pool error", err)
	}
}
