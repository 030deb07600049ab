package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nxmigrate/migrate/internal/tree"
)

// NodeGeneratorResolver is the single concrete ImplementationResolver this
// tool ships: migration scripts are npm-published JavaScript, which this
// Go tool cannot execute directly, so each invocation shells out to a
// Node process. The generator runs against a scratch checkout of the
// tree's current pending state; the resolver diffs the checkout before
// and after the subprocess exits and replays the resulting file changes
// back into the Tree, so the buffered listChanges/flushChanges contract
// holds even though the actual transformation ran out-of-process.
type NodeGeneratorResolver struct {
	// NodeBin is the node executable to invoke; defaults to "node".
	NodeBin string
	// ScratchDir is the parent directory scratch checkouts are created
	// under; defaults to os.TempDir().
	ScratchDir string
}

// NewNodeGeneratorResolver returns a NodeGeneratorResolver with its
// defaults filled in.
func NewNodeGeneratorResolver() *NodeGeneratorResolver {
	return &NodeGeneratorResolver{NodeBin: "node"}
}

// Resolve implements ImplementationResolver.
func (r *NodeGeneratorResolver) Resolve(path string) (Implementation, error) {
	nodeBin := r.NodeBin
	if nodeBin == "" {
		nodeBin = "node"
	}
	scratchParent := r.ScratchDir
	if scratchParent == "" {
		scratchParent = os.TempDir()
	}

	return func(ctx context.Context, t tree.Tree) (bool, error) {
		fsTree, ok := t.(*tree.FsTree)
		if !ok {
			return false, fmt.Errorf("runner: NodeGeneratorResolver requires an *tree.FsTree")
		}

		scratchDir, err := os.MkdirTemp(scratchParent, "nx-migrate-generator-")
		if err != nil {
			return false, fmt.Errorf("runner: creating scratch checkout: %w", err)
		}
		defer os.RemoveAll(scratchDir)

		if err := materialize(fsTree, scratchDir); err != nil {
			return false, fmt.Errorf("runner: materializing scratch checkout: %w", err)
		}

		before, err := snapshotDir(scratchDir)
		if err != nil {
			return false, err
		}

		cmd := exec.CommandContext(ctx, nodeBin, "-e", nodeGeneratorShim, "--", path)
		cmd.Dir = scratchDir
		output, err := cmd.CombinedOutput()
		if err != nil {
			return false, fmt.Errorf("runner: generator %s failed: %w: %s", path, err, output)
		}

		after, err := snapshotDir(scratchDir)
		if err != nil {
			return false, err
		}

		return replayDiff(t, before, after)
	}, nil
}

// nodeGeneratorShim loads the generator module whose path follows "--" on
// the command line (process.argv[1] under node -e) and invokes the module
// itself, or its default export, as fn(dir, {}), where dir is the scratch
// checkout's path as a string; the generator edits the checkout's files
// directly.
const nodeGeneratorShim = `
const path = require('process').argv[1];
const mod = require(path);
const fn = typeof mod === 'function' ? mod : mod.default;
Promise.resolve(fn(require('process').cwd(), {})).catch((err) => {
  console.error(err);
  process.exit(1);
});
`

func materialize(t *tree.FsTree, scratchDir string) error {
	for _, change := range t.ListChanges() {
		dest := filepath.Join(scratchDir, filepath.FromSlash(change.Path))
		if change.Type == tree.Delete {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, change.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func snapshotDir(root string) (map[string][]byte, error) {
	snapshot := map[string][]byte{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snapshot[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("runner: snapshotting %s: %w", root, err)
	}
	return snapshot, nil
}

// replayDiff compares two directory snapshots and writes every added or
// changed file (and removes every deleted one) into t, reporting whether
// anything changed at all.
func replayDiff(t tree.Tree, before, after map[string][]byte) (bool, error) {
	changed := false
	for path, content := range after {
		prior, existed := before[path]
		if existed && string(prior) == string(content) {
			continue
		}
		if err := t.Write(path, content); err != nil {
			return false, err
		}
		changed = true
	}
	for path := range before {
		if _, stillPresent := after[path]; stillPresent {
			continue
		}
		if err := t.Delete(path); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}
