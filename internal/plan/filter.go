package plan

import (
	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

var requiresOptions = semverutil.SatisfiesOptions{IncludePrerelease: true}

// filterUpdate applies the packageJsonUpdates filter to a single update:
// it only applies if its own version falls in
// (installedVersion, targetVersion], and each of its peer bumps only
// survives if the workspace actually cares about that peer — flagged
// explicitly, or already a direct (dev-)dependency — and it's still a
// step forward for that peer.
func (m *Migrator) filterUpdate(u migrate.PackageJSONUpdate, installedVersion, targetVersion string) (migrate.PackageJSONUpdate, bool) {
	if len(u.Packages) == 0 {
		return migrate.PackageJSONUpdate{}, false
	}
	if semverutil.Lte(u.Version, installedVersion) || semverutil.Gt(u.Version, targetVersion) {
		return migrate.PackageJSONUpdate{}, false
	}

	retained := map[string]migrate.PackageJSONUpdatePackage{}
	for child, cu := range u.Packages {
		if cu.IfPackageInstalled != "" {
			if _, ok := m.resolver.Resolve(cu.IfPackageInstalled); !ok {
				continue
			}
		}

		dep, dev := m.isDirectDependency(child)
		if !(cu.AlwaysAddToPackageJSON || addToPackageJSONTruthy(cu.AddToPackageJSON) || dep || dev) {
			continue
		}

		if collected, ok := m.getCollectedVersion(child); ok && !semverutil.Gt(cu.Version, collected) {
			continue
		}

		// addToPackageJson on the retained record only ever forces a
		// *new* manifest insertion; it says
		// nothing about packages that are already direct
		// (dev-)dependencies. The plan writer decides that case itself,
		// by checking the real manifest for an existing entry before
		// ever consulting this field.
		var section migrate.DependencySection
		if cu.AlwaysAddToPackageJSON {
			section = migrate.Dependencies
		} else {
			section = sectionFromAny(cu.AddToPackageJSON)
		}

		retained[child] = migrate.PackageJSONUpdatePackage{Version: cu.Version, AddToPackageJSON: section}
	}

	if len(retained) == 0 {
		return migrate.PackageJSONUpdate{}, false
	}
	return migrate.PackageJSONUpdate{
		Version:  u.Version,
		Packages: retained,
		Requires: u.Requires,
		XPrompt:  u.XPrompt,
	}, true
}

func (m *Migrator) isDirectDependency(pkg string) (dep, dev bool) {
	return m.directDeps[pkg], m.directDevDeps[pkg]
}

// requiresSatisfied checks a requires predicate against three sources, in
// order of authority: the workspace's currently installed version, this
// package's own entry in the plan built so far, and the peer bumps being
// folded into the same deferred resolution. Any one of the three
// satisfying the range is enough.
func (m *Migrator) requiresSatisfied(requires map[string]string, filteredSoFar map[string]migrate.PackageJSONUpdatePackage) bool {
	for dep, rng := range requires {
		if v, ok := m.resolver.Resolve(dep); ok && semverutil.Satisfies(v, rng, requiresOptions) {
			continue
		}
		if pu, ok := m.getPackageUpdate(dep); ok && semverutil.Satisfies(pu.Version, rng, requiresOptions) {
			continue
		}
		if cu, ok := filteredSoFar[dep]; ok && semverutil.Satisfies(cu.Version, rng, requiresOptions) {
			continue
		}
		return false
	}
	return true
}

// requiresSatisfiedAgainstPlan checks a requires predicate against the
// planner's final state: a package's plan entry if it has one, otherwise
// its currently installed version. Used by phase 2.
func (m *Migrator) requiresSatisfiedAgainstPlan(requires map[string]string) bool {
	for dep, rng := range requires {
		version, ok := m.effectiveVersion(dep)
		if !ok || !semverutil.Satisfies(version, rng, requiresOptions) {
			return false
		}
	}
	return true
}

func (m *Migrator) effectiveVersion(pkg string) (string, bool) {
	if pu, ok := m.getPackageUpdate(pkg); ok {
		return pu.Version, true
	}
	return m.resolver.Resolve(pkg)
}

// wasPreviouslySkipped reports whether a migration's requires predicate
// would have failed against the workspace's currently installed versions:
// the "previously skipped" test for --excludeAppliedMigrations.
func (m *Migrator) wasPreviouslySkipped(requires map[string]string) bool {
	if len(requires) == 0 {
		return false
	}
	for dep, rng := range requires {
		v, ok := m.resolver.Resolve(dep)
		if !ok || !semverutil.Satisfies(v, rng, requiresOptions) {
			return true
		}
	}
	return false
}

func sectionFromAny(v any) migrate.DependencySection {
	switch t := v.(type) {
	case migrate.DependencySection:
		return t
	case string:
		return migrate.DependencySection(t)
	case bool:
		if t {
			return migrate.Dependencies
		}
		return migrate.NoSection
	default:
		return migrate.NoSection
	}
}

func addToPackageJSONTruthy(v any) bool {
	switch t := v.(type) {
	case migrate.DependencySection:
		return t != migrate.NoSection
	case string:
		return t != ""
	case bool:
		return t
	default:
		return false
	}
}
