/*
Package plan implements the Migrator: the graph-resolution algorithm that
turns a single `<package>@<version>` request into the complete transitive
set of package-version updates a workspace needs, plus the ordered list of
migration scripts that realize them.

The algorithm is naturally recursive, and sibling recursions have no
cross-dependencies within a single level — so this implementation does
the simplest thing that's correct: it recurses sequentially rather than
fanning out goroutines. That keeps the monotone-max invariants over
packageUpdates/collectedVersions trivial to reason about without losing
any required behavior, since nothing here blocks on a concurrent sibling.
*/
package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nxmigrate/migrate/internal/fetch"
	"github.com/nxmigrate/migrate/internal/installed"
	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/prompt"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

// Target is what the planner is trying to bring a package to: the version
// to aim for, and whether (and where) to add the package to the manifest
// if it's missing.
type Target struct {
	Version          string
	AddToPackageJSON migrate.DependencySection
}

// pendingUpdate is a package whose packageJsonUpdates couldn't be admitted
// eagerly, either because interactive gating deferred an x-prompt or
// because a requires predicate needed to be checked against the
// in-progress plan.
type pendingUpdate struct {
	Package string
	Updates []migrate.PackageJSONUpdate
}

// Config supplies a Migrator with its collaborators and CLI-level
// overrides.
type Config struct {
	Fetcher                  *fetch.Fetcher
	Installed                *installed.Resolver
	Prompter                 prompt.Prompter
	Interactive              bool
	ExcludeAppliedMigrations bool

	// To holds the --to="pkg@version,..." overrides: the version the
	// planner should aim for a given package, regardless of what a parent
	// package-group or packageJsonUpdate says.
	To map[string]string

	// FromOverrides holds the --from="pkg@version,..." overrides: what
	// version the planner (and the Installed resolver it shares this map
	// with) should treat a given package as already being at, regardless
	// of what's actually on disk. A package-group sibling pinned to "*"
	// inherits its parent's override into this same map, so the child's
	// own installed-version lookup sees the pin too.
	FromOverrides map[string]string

	// DirectDependencies and DirectDevDependencies are the package names
	// listed in the workspace's package.json dependencies/devDependencies
	// sections, used by the packageJsonUpdates filter.
	DirectDependencies    map[string]bool
	DirectDevDependencies map[string]bool
}

// Migrator is the planner. Construct one per CLI invocation: its caches
// and accumulating plan are not safe to reuse across runs.
type Migrator struct {
	fetcher   *fetch.Fetcher
	resolver  *installed.Resolver
	prompter  prompt.Prompter

	interactive              bool
	excludeAppliedMigrations bool
	to                       map[string]string
	fromOverrides            map[string]string
	directDeps               map[string]bool
	directDevDeps            map[string]bool

	mu                sync.Mutex
	packageUpdates    map[string]migrate.PackageUpdate
	collectedVersions map[string]string
	visitOrder        []string
}

// New constructs a Migrator from cfg.
func New(cfg Config) *Migrator {
	to := cfg.To
	if to == nil {
		to = map[string]string{}
	}
	fromOverrides := cfg.FromOverrides
	if fromOverrides == nil {
		fromOverrides = map[string]string{}
	}
	return &Migrator{
		fetcher:                  cfg.Fetcher,
		resolver:                 cfg.Installed,
		prompter:                 cfg.Prompter,
		interactive:              cfg.Interactive,
		excludeAppliedMigrations: cfg.ExcludeAppliedMigrations,
		to:                       to,
		fromOverrides:            fromOverrides,
		directDeps:               cfg.DirectDependencies,
		directDevDeps:            cfg.DirectDevDependencies,
		packageUpdates:           map[string]migrate.PackageUpdate{},
		collectedVersions:        map[string]string{},
	}
}

// Migrate is the planner's public operation: given the initial
// `<package>@<version>` request, it returns the full plan.
func (m *Migrator) Migrate(ctx context.Context, targetPackage, targetVersion string) (*migrate.Plan, error) {
	m.packageUpdates = map[string]migrate.PackageUpdate{}
	m.collectedVersions = map[string]string{}
	m.visitOrder = nil

	target := Target{Version: targetVersion}
	if override, ok := m.to[targetPackage]; ok {
		target.Version = override
	}

	if err := m.buildPackageJsonUpdates(ctx, targetPackage, target); err != nil {
		return nil, err
	}

	migrations, err := m.deriveMigrations(ctx)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]migrate.PackageUpdate, len(m.packageUpdates))
	for k, v := range m.packageUpdates {
		updates[k] = v
	}
	return &migrate.Plan{PackageUpdates: updates, Migrations: migrations}, nil
}

// buildPackageJsonUpdates populates the eager (non-gated) part of the
// tree rooted at pkg, then resolves whatever was deferred by gating its
// requires/x-prompt conditions against the plan built so far, recursing
// into admitted children exactly like a fresh call to
// buildPackageJsonUpdates.
func (m *Migrator) buildPackageJsonUpdates(ctx context.Context, pkg string, target Target) error {
	pending, err := m.populate(ctx, pkg, target)
	if err != nil {
		return err
	}

	for _, item := range pending {
		resolved, err := m.resolveDeferred(ctx, item)
		if err != nil {
			return err
		}
		for _, child := range resolved.order {
			cu := resolved.packages[child]
			childTarget := Target{Version: cu.Version, AddToPackageJSON: sectionOf(cu)}
			if err := m.buildPackageJsonUpdates(ctx, child, childTarget); err != nil {
				return err
			}
		}
	}
	return nil
}

// populate resolves pkg's target version, records it in the plan, expands
// its package-group, filters its packageJsonUpdates, and either recurses
// immediately (no update needed gating) or bubbles up the deferred
// updates for buildPackageJsonUpdates to resolve.
func (m *Migrator) populate(ctx context.Context, pkg string, target Target) ([]pendingUpdate, error) {
	targetVersion := target.Version
	if override, ok := m.to[pkg]; ok {
		targetVersion = override
	}

	installedVersion, isInstalled := m.resolver.Resolve(pkg)
	if !isInstalled {
		// Not installed: record the plan entry and stop. A package that
		// isn't installed brings no transitive children.
		m.recordPackageUpdate(pkg, targetVersion, target.AddToPackageJSON)
		return nil, nil
	}

	doc, err := m.fetcher.Fetch(ctx, pkg, targetVersion)
	if err != nil {
		if errors.Is(err, fetch.ErrNoMatchingVersion) {
			return nil, fmt.Errorf(`%w; run migrate with --to="%s@<version>" to choose one explicitly`, err, pkg)
		}
		return nil, err
	}
	targetVersion = doc.Version // canonicalized by the registry

	if !m.tryMarkCollected(pkg, targetVersion) {
		return nil, nil
	}

	m.recordPackageUpdate(pkg, targetVersion, target.AddToPackageJSON)

	groupOrder := m.expandPackageGroup(doc, pkg, targetVersion)

	var filteredList []migrate.PackageJSONUpdate
	needsDeferral := false
	if doc.PackageJSONUpdates != nil {
		for _, key := range doc.PackageJSONUpdates.Keys() {
			u, _ := doc.PackageJSONUpdates.Get(key)
			filtered, ok := m.filterUpdate(u, installedVersion, targetVersion)
			if !ok {
				continue
			}
			filteredList = append(filteredList, filtered)
			if filtered.XPrompt != "" || len(filtered.Requires) > 0 {
				needsDeferral = true
			}
		}
	}

	if needsDeferral {
		return []pendingUpdate{{Package: pkg, Updates: filteredList}}, nil
	}

	merged := map[string]migrate.PackageJSONUpdatePackage{}
	var order []string
	for _, u := range filteredList {
		for child, cu := range u.Packages {
			if _, seen := merged[child]; !seen {
				order = append(order, child)
			}
			merged[child] = cu
		}
	}
	order = reorderByGroup(order, groupOrder)

	var results []pendingUpdate
	for _, child := range order {
		cu := merged[child]
		sub, err := m.populate(ctx, child, Target{Version: cu.Version, AddToPackageJSON: sectionOf(cu)})
		if err != nil {
			return nil, err
		}
		results = append(results, sub...)
	}
	return results, nil
}

type resolvedChildren struct {
	packages map[string]migrate.PackageJSONUpdatePackage
	order    []string
}

// resolveDeferred implements buildPackageJsonUpdates step 2: walk a
// deferred package's candidate updates in document order, admitting each
// iff its requires is satisfied against the installed versions,
// packageUpdates, or the filteredUpdates built so far, and (outside interactive mode, or with
// the prompt confirmed) its x-prompt.
func (m *Migrator) resolveDeferred(ctx context.Context, item pendingUpdate) (resolvedChildren, error) {
	result := resolvedChildren{packages: map[string]migrate.PackageJSONUpdatePackage{}}

	for _, u := range item.Updates {
		if len(u.Requires) > 0 && !m.requiresSatisfied(u.Requires, result.packages) {
			continue
		}
		if u.XPrompt != "" && m.interactive {
			confirmed, err := m.prompter.Confirm(u.XPrompt)
			if err != nil {
				return resolvedChildren{}, fmt.Errorf("plan: prompting %q: %w", u.XPrompt, err)
			}
			if !confirmed {
				continue
			}
		}
		for child, cu := range u.Packages {
			if _, seen := result.packages[child]; !seen {
				result.order = append(result.order, child)
			}
			result.packages[child] = cu
		}
	}
	return result, nil
}

func (m *Migrator) recordPackageUpdate(pkg, version string, section migrate.DependencySection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.packageUpdates[pkg]
	if !ok {
		m.visitOrder = append(m.visitOrder, pkg)
		m.packageUpdates[pkg] = migrate.PackageUpdate{Version: version, AddToPackageJSON: section}
		return
	}
	if semverutil.Gt(version, existing.Version) {
		m.packageUpdates[pkg] = migrate.PackageUpdate{Version: version, AddToPackageJSON: section}
	}
}

// tryMarkCollected is the fixed-point check: it reports whether
// pkg@version still needs processing, and if so
// records version as the new high-water mark.
func (m *Migrator) tryMarkCollected(pkg, version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if collected, ok := m.collectedVersions[pkg]; ok && semverutil.Gte(collected, version) {
		return false
	}
	m.collectedVersions[pkg] = version
	return true
}

func (m *Migrator) getCollectedVersion(pkg string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.collectedVersions[pkg]
	return v, ok
}

func (m *Migrator) getPackageUpdate(pkg string) (migrate.PackageUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.packageUpdates[pkg]
	return v, ok
}

// sectionOf recovers the DependencySection a filtered
// PackageJSONUpdatePackage carries in its AddToPackageJSON field, which is
// already a migrate.DependencySection by the time filterUpdate has run.
func sectionOf(cu migrate.PackageJSONUpdatePackage) migrate.DependencySection {
	if s, ok := cu.AddToPackageJSON.(migrate.DependencySection); ok {
		return s
	}
	return sectionFromAny(cu.AddToPackageJSON)
}
