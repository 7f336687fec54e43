package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirSourceListFetchArchive(t *testing.T) {
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	archive := filepath.Join(root, "archive")
	if err := os.MkdirAll(filepath.Join(inbox, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"b.csv": "b", "a.csv": "a", ".hidden": "x"} {
		if err := os.WriteFile(filepath.Join(inbox, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	src := NewDirSource(inbox, archive, "")
	names, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(names) != 2 || names[0] != "a.csv" || names[1] != "b.csv" {
		t.Fatalf("unexpected names %v", names)
	}

	data, err := src.Fetch(context.Background(), "a.csv")
	if err != nil || string(data) != "a" {
		t.Fatalf("unexpected fetch result %q %v", data, err)
	}

	if err := src.Archive(context.Background(), "a.csv"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(archive, "a.csv")); err != nil {
		t.Fatalf("expected archived file, got %v", err)
	}
	if _, err := src.Fetch(context.Background(), "a.csv"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDirSourceUpload(t *testing.T) {
	outbox := filepath.Join(t.TempDir(), "out")
	src := NewDirSource("", "", outbox)

	if err := src.Upload(context.Background(), "INBOX.F3535.1", []byte("BH")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outbox, "INBOX.F3535.1"))
	if err != nil || string(data) != "BH" {
		t.Fatalf("unexpected upload %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(outbox, "INBOX.F3535.1.part")); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be renamed")
	}
}

func TestDirSourceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDirSource(t.TempDir(), "", "").List(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestNewSFTPSourceRequiresHost(t *testing.T) {
	if _, err := NewSFTPSource(SFTPConfig{}); err == nil {
		t.Fatal("expected error for missing host")
	}
	src, err := NewSFTPSource(SFTPConfig{Host: "sftp.local"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := src.clientConfig(); err == nil {
		t.Fatal("expected error without credentials")
	}
}
