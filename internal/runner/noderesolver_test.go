package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nxmigrate/migrate/internal/tree"
)

func TestMaterializeWritesPendingTreeChangesToScratchDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	fsTree := tree.NewFsTree(fs, "/workspace")
	require.NoError(t, fsTree.Write("a.json", []byte(`{"a":1}`)))
	require.NoError(t, fsTree.Write("nested/b.json", []byte(`{"b":2}`)))

	scratch := t.TempDir()
	require.NoError(t, materialize(fsTree, scratch))

	content, err := os.ReadFile(filepath.Join(scratch, "a.json"))
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(content))

	content, err = os.ReadFile(filepath.Join(scratch, "nested", "b.json"))
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(content))
}

func TestSnapshotDirCapturesAllFilesByRelativePath(t *testing.T) {
	scratch := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scratch, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "top.json"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "sub", "nested.json"), []byte("2"), 0o644))

	snap, err := snapshotDir(scratch)
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{
		"top.json":       []byte("1"),
		"sub/nested.json": []byte("2"),
	}, snap)
}

func TestReplayDiffWritesAddedAndChangedFilesAndDeletesRemoved(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/workspace/unchanged.json", []byte("same"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/workspace/removed.json", []byte("gone"), 0o644))
	fsTree := tree.NewFsTree(fs, "/workspace")

	before := map[string][]byte{
		"unchanged.json": []byte("same"),
		"removed.json":   []byte("gone"),
	}
	after := map[string][]byte{
		"unchanged.json": []byte("same"),
		"added.json":      []byte("new"),
	}

	changed, err := replayDiff(fsTree, before, after)
	require.NoError(t, err)
	require.True(t, changed)

	changes := fsTree.ListChanges()
	byPath := map[string]tree.Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Equal(t, tree.Create, byPath["added.json"].Type)
	require.Equal(t, tree.Delete, byPath["removed.json"].Type)
	_, unchangedTouched := byPath["unchanged.json"]
	require.False(t, unchangedTouched, "a file identical before and after the generator ran is never re-written")
}

func TestReplayDiffReportsNoChangeWhenSnapshotsAreIdentical(t *testing.T) {
	fs := afero.NewMemMapFs()
	fsTree := tree.NewFsTree(fs, "/workspace")

	snap := map[string][]byte{"a.json": []byte("1")}
	changed, err := replayDiff(fsTree, snap, snap)
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, fsTree.ListChanges())
}
