/*
Package runner executes a planner's ordered migrations list: run each one
against a virtual filesystem tree (or
hand it to an external adapter for non-native scripts), commit per
migration on request, and trigger a package-manager reinstall if the
dependency set changed along the way.
*/
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/nxmigrate/migrate/internal/cliui"
	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/tree"
)

// nativeCLI is the value (or absence of one) that routes a migration
// through the tree-based native path rather than the external adapter.
const nativeCLI = "nx"

// Implementation is the per-migration transformation script: an opaque
// function of (tree, options) → madeChanges. This tool supplies no real
// transformation scripts; a
// caller wires in whatever implementations a real migration document
// names.
type Implementation func(ctx context.Context, t tree.Tree) (madeChanges bool, err error)

// ImplementationResolver locates an Implementation by the module path a
// migration document names (its implementation or factory field),
// resolved relative to the migrations-file directory.
type ImplementationResolver interface {
	Resolve(path string) (Implementation, error)
}

// AdapterResult is what an ExternalAdapter reports back for a
// non-native migration.
type AdapterResult struct {
	MadeChanges  bool
	LoggingQueue []string
}

// ExternalAdapter runs a migration whose cli isn't the tool's own
// native "nx"; the adapter itself is an opaque external collaborator.
type ExternalAdapter interface {
	Run(ctx context.Context, entry migrate.MigrationEntry) (AdapterResult, error)
}

// GitCommitter commits the working tree after a migration that made
// changes.
type GitCommitter interface {
	Commit(ctx context.Context, dir, message string) (sha string, err error)
}

// Installer runs the package manager's install step after the run.
type Installer interface {
	Install(ctx context.Context, dir string) error
}

// Options configures a Runner.
type Options struct {
	Fs              afero.Fs
	WorkspaceRoot   string
	MigrationsDir   string // directory m.Implementation/m.Factory paths are resolved against; defaults to WorkspaceRoot
	Implementations ImplementationResolver
	Adapter         ExternalAdapter // required only if the migrations list contains a non-native cli
	Committer       GitCommitter
	Installer       Installer
	Out             io.Writer

	CreateCommits bool
	CommitPrefix  string
	SkipInstall   bool // mirrors NX_MIGRATE_SKIP_INSTALL; caller reads the environment
}

// CommitRecord is one successful per-migration commit.
type CommitRecord struct {
	Migration string
	SHA       string
}

// Summary reports what a Run accomplished.
type Summary struct {
	Applied     []string // migrations that made changes
	Skipped     []string // migrations that made no changes
	Commits     []CommitRecord
	Reinstalled bool
}

// Runner executes an ordered migrations list against a workspace.
type Runner struct {
	opts Options
}

// New constructs a Runner. Implementations may be nil if every migration
// in every list this Runner will execute carries a non-native cli.
func New(opts Options) *Runner {
	if opts.MigrationsDir == "" {
		opts.MigrationsDir = opts.WorkspaceRoot
	}
	return &Runner{opts: opts}
}

// Run executes entries in order.
func (r *Runner) Run(ctx context.Context, entries []migrate.MigrationEntry) (Summary, error) {
	var summary Summary

	before, err := r.snapshotDependencies()
	if err != nil {
		return summary, err
	}

	needsAdapter := false
	for _, m := range entries {
		if m.CLI != "" && m.CLI != nativeCLI {
			needsAdapter = true
			break
		}
	}
	if needsAdapter && r.opts.Adapter == nil {
		return summary, fmt.Errorf("runner: migrations list requires an external adapter but none was configured")
	}

	t := tree.NewFsTree(r.opts.Fs, r.opts.WorkspaceRoot)

	for _, m := range entries {
		madeChanges, err := r.runOne(ctx, t, m)
		if err != nil {
			cliui.PrintTitledError(r.opts.Out, fmt.Sprintf("Migration %s failed", m.Name), err)
			return summary, fmt.Errorf("runner: migration %s (%s): %w", m.Name, m.Package, err)
		}

		if !madeChanges {
			cliui.PrintSkipped(r.opts.Out, m.Name)
			summary.Skipped = append(summary.Skipped, m.Name)
			continue
		}

		cliui.PrintRunning(r.opts.Out, m.Name)
		summary.Applied = append(summary.Applied, m.Name)

		if r.opts.CreateCommits && r.opts.Committer != nil {
			message := r.opts.CommitPrefix + m.Name
			sha, cerr := r.opts.Committer.Commit(ctx, r.opts.WorkspaceRoot, message)
			if cerr != nil {
				cliui.PrintCommitFailure(r.opts.Out, m.Name, cerr)
			} else {
				summary.Commits = append(summary.Commits, CommitRecord{Migration: m.Name, SHA: sha})
			}
		}
	}

	after, err := r.snapshotDependencies()
	if err != nil {
		return summary, err
	}

	if before != after && !r.opts.SkipInstall && r.opts.Installer != nil {
		if err := r.opts.Installer.Install(ctx, r.opts.WorkspaceRoot); err != nil {
			return summary, fmt.Errorf("runner: package manager install: %w", err)
		}
		summary.Reinstalled = true
	}

	return summary, nil
}

// runOne dispatches a single migration to the native tree path or the
// external adapter.
func (r *Runner) runOne(ctx context.Context, t *tree.FsTree, m migrate.MigrationEntry) (bool, error) {
	if m.CLI != "" && m.CLI != nativeCLI {
		result, err := r.opts.Adapter.Run(ctx, m)
		if err != nil {
			return false, err
		}
		return result.MadeChanges, nil
	}

	path := m.ImplementationPath()
	if path == "" {
		return false, fmt.Errorf("migration %s declares no implementation or factory", m.Name)
	}
	resolved := filepath.Join(r.opts.MigrationsDir, path)

	impl, err := r.opts.Implementations.Resolve(resolved)
	if err != nil {
		return false, fmt.Errorf("resolving implementation %s: %w", resolved, err)
	}

	madeChanges, err := impl(ctx, t)
	if err != nil {
		return false, err
	}
	if madeChanges {
		if err := t.FlushChanges(); err != nil {
			return false, err
		}
	}
	return madeChanges, nil
}

// dependencySnapshot is the manifest's (dependencies, devDependencies)
// pair, compared byte-for-byte before and after the run to decide
// whether a reinstall is needed.
type dependencySnapshot struct {
	Dependencies    json.RawMessage `json:"dependencies,omitempty"`
	DevDependencies json.RawMessage `json:"devDependencies,omitempty"`
}

func (r *Runner) snapshotDependencies() (string, error) {
	path := filepath.Join(r.opts.WorkspaceRoot, "package.json")
	raw, err := afero.ReadFile(r.opts.Fs, path)
	if err != nil {
		return "", nil // no manifest: nothing to snapshot
	}

	var snap dependencySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return "", fmt.Errorf("runner: parsing manifest for dependency snapshot: %w", err)
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("runner: encoding dependency snapshot: %w", err)
	}
	return string(encoded), nil
}
