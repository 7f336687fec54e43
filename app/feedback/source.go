// Package feedback moves settlement and journal files between the ledger and
// the remote drop directories of the external financial systems.
package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrFileNotFound = errors.New("feedback file not found")

// Source lists, fetches and archives inbound feedback files.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
	Archive(ctx context.Context, name string) error
}

// DirSource serves feedback files from a local directory. It is used when
// the drop folder is mounted and in tests.
type DirSource struct {
	InboxDir   string
	ArchiveDir string
	OutboxDir  string
}

func NewDirSource(inbox, archive, outbox string) *DirSource {
	return &DirSource{InboxDir: inbox, ArchiveDir: archive, OutboxDir: outbox}
}

func (d *DirSource) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.InboxDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.InboxDir, filepath.Base(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileNotFound
	}
	return data, err
}

func (d *DirSource) Archive(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ArchiveDir == "" {
		return os.Remove(filepath.Join(d.InboxDir, filepath.Base(name)))
	}
	if err := os.MkdirAll(d.ArchiveDir, 0o755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(d.InboxDir, filepath.Base(name)), filepath.Join(d.ArchiveDir, filepath.Base(name)))
}

// Upload writes an outbound file atomically so pollers on the other side
// never observe a partial write.
func (d *DirSource) Upload(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.OutboxDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(d.OutboxDir, filepath.Base(name))
	tmp := target + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
