/*
Package tree implements a virtual filesystem abstraction kept opaque
beyond two operations, listChanges and flushChanges: migration scripts
read and write through a Tree instead of
touching disk directly, so the runner can record what a migration did and
flush it in one step, or report a clean no-op without ever touching disk.
*/
package tree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ChangeType classifies one recorded mutation.
type ChangeType int

const (
	Create ChangeType = iota
	Update
	Delete
)

func (c ChangeType) String() string {
	switch c {
	case Create:
		return "CREATE"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change is one recorded mutation against a Tree, not yet flushed to disk.
type Change struct {
	Path    string
	Type    ChangeType
	Content []byte
}

// Tree is what a migration's `fn(tree, options)` implementation reads
// and writes through. All changes are buffered in memory until
// FlushChanges commits them, so a migration that throws partway through
// leaves nothing on disk for the runner to roll back: no rollback is
// attempted because nothing was ever written.
type Tree interface {
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	Delete(path string) error
	Exists(path string) bool
	ListChanges() []Change
}

// FsTree is the one concrete Tree this tool ships: an afero-backed
// implementation that serves reads from the real filesystem (falling
// through to any already-recorded in-memory change) and buffers writes
// and deletes until flushed.
type FsTree struct {
	fs   afero.Fs
	root string

	changes map[string]Change
	order   []string
}

// NewFsTree returns a Tree rooted at root; root is joined with every
// relative path a migration passes in, mirroring the workspace-relative
// paths migrations.json implementations receive.
func NewFsTree(fs afero.Fs, root string) *FsTree {
	return &FsTree{fs: fs, root: root, changes: make(map[string]Change)}
}

func (t *FsTree) abs(path string) string {
	return filepath.Join(t.root, filepath.FromSlash(path))
}

// Read returns path's content: a pending in-memory change if one exists
// (so a migration can read back its own uncommitted write), else the
// file as it stands on disk.
func (t *FsTree) Read(path string) ([]byte, error) {
	if c, ok := t.changes[path]; ok {
		if c.Type == Delete {
			return nil, fmt.Errorf("tree: %s: %w", path, os.ErrNotExist)
		}
		return c.Content, nil
	}
	return afero.ReadFile(t.fs, t.abs(path))
}

// Write records a create-or-update change for path. Whether it's a
// create or an update is decided against the real filesystem, not
// against other pending changes, so a migration that writes the same
// path twice still reports a single CREATE if the file is new.
func (t *FsTree) Write(path string, content []byte) error {
	changeType := Update
	if !t.existsOnDisk(path) {
		changeType = Create
	}
	t.record(Change{Path: path, Type: changeType, Content: content})
	return nil
}

// Delete records a delete change for path.
func (t *FsTree) Delete(path string) error {
	t.record(Change{Path: path, Type: Delete})
	return nil
}

// Exists reports whether path exists, accounting for pending changes.
func (t *FsTree) Exists(path string) bool {
	if c, ok := t.changes[path]; ok {
		return c.Type != Delete
	}
	return t.existsOnDisk(path)
}

func (t *FsTree) existsOnDisk(path string) bool {
	ok, err := afero.Exists(t.fs, t.abs(path))
	return err == nil && ok
}

func (t *FsTree) record(c Change) {
	if _, ok := t.changes[c.Path]; !ok {
		t.order = append(t.order, c.Path)
	}
	t.changes[c.Path] = c
}

// ListChanges returns the recorded changes in the order their paths were
// first touched, last write per path wins.
func (t *FsTree) ListChanges() []Change {
	out := make([]Change, 0, len(t.order))
	for _, path := range t.order {
		out = append(out, t.changes[path])
	}
	return out
}

// FlushChanges commits every recorded change to disk and clears the
// in-memory buffer, so a Tree can be reused across multiple migrations
// within the same run without replaying earlier ones' changes.
func (t *FsTree) FlushChanges() error {
	for _, path := range t.order {
		change := t.changes[path]
		abs := t.abs(path)
		switch change.Type {
		case Delete:
			if err := t.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("tree: deleting %s: %w", path, err)
			}
		case Create, Update:
			if err := t.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return fmt.Errorf("tree: creating directory for %s: %w", path, err)
			}
			if err := afero.WriteFile(t.fs, abs, change.Content, 0o644); err != nil {
				return fmt.Errorf("tree: writing %s: %w", path, err)
			}
		}
	}
	t.changes = make(map[string]Change)
	t.order = nil
	return nil
}
