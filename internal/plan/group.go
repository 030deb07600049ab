package plan

import (
	"sort"

	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

// legacyWorkspacePackage is the one package whose package-group isn't
// declared in its own migration document: versions of @nrwl/workspace
// before the 14.0.0-beta.0 configuration split carry an implicit
// package-group of its (then-undivided) plugin packages.
const legacyWorkspacePackage = "@nrwl/workspace"

var legacyWorkspaceThreshold = "14.0.0-beta.0"

var legacyWorkspaceGroup = []migrate.PackageGroupEntry{
	{Package: "@nrwl/angular", Version: "*"},
	{Package: "@nrwl/cli", Version: "*"},
	{Package: "@nrwl/cypress", Version: "*"},
	{Package: "@nrwl/eslint-plugin-nx", Version: "*"},
	{Package: "@nrwl/express", Version: "*"},
	{Package: "@nrwl/jest", Version: "*"},
	{Package: "@nrwl/linter", Version: "*"},
	{Package: "@nrwl/nest", Version: "*"},
	{Package: "@nrwl/next", Version: "*"},
	{Package: "@nrwl/node", Version: "*"},
	{Package: "@nrwl/react", Version: "*"},
	{Package: "@nrwl/storybook", Version: "*"},
	{Package: "@nrwl/web", Version: "*"},
	{Package: "@nrwl/workspace", Version: "*"},
	{Package: "@nrwl/cloud", Version: "latest"},
}

// expandPackageGroup resolves doc's effective package-group (substituting
// the legacy @nrwl/workspace group where it applies), injects a synthetic
// packageJsonUpdates entry for it so the group is filtered and folded
// exactly like any other update, and returns the group's declared order
// for downstream recursion ordering.
func (m *Migrator) expandPackageGroup(doc *migrate.Document, pkg, targetVersion string) []string {
	group := doc.PackageGroup
	if pkg == legacyWorkspacePackage && semverutil.Lt(targetVersion, legacyWorkspaceThreshold) {
		group = legacyWorkspaceGroup
	}

	if len(group) == 0 {
		doc.SetPackageGroupOrder(nil)
		return nil
	}

	entries := map[string]migrate.PackageJSONUpdatePackage{}
	order := make([]string, 0, len(group))
	for _, g := range group {
		version := g.Version
		if version == "*" {
			version = targetVersion
			// Propagate a caller's --from override for the parent package
			// down to its package-group siblings, since "*" means "move
			// in lockstep with the parent" — the sibling's own installed-
			// version lookup needs to see the same pin.
			if override, ok := m.fromOverrides[pkg]; ok {
				m.fromOverrides[g.Package] = override
			}
		}
		entries[g.Package] = migrate.PackageJSONUpdatePackage{Version: version}
		order = append(order, g.Package)
	}

	if doc.PackageJSONUpdates == nil {
		doc.PackageJSONUpdates = migrate.NewOrderedMap[migrate.PackageJSONUpdate]()
	}
	doc.PackageJSONUpdates.Set(targetVersion+"--PackageGroup", migrate.PackageJSONUpdate{
		Version:  targetVersion,
		Packages: entries,
	})
	doc.SetPackageGroupOrder(order)
	return order
}

// reorderByGroup stable-sorts order so that any package-group siblings it
// contains precede everything else, in the group's declared order.
func reorderByGroup(order []string, groupOrder []string) []string {
	if len(groupOrder) == 0 {
		return order
	}
	index := make(map[string]int, len(groupOrder))
	for i, p := range groupOrder {
		index[p] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		gi, iInGroup := index[order[i]]
		gj, jInGroup := index[order[j]]
		switch {
		case iInGroup && jInGroup:
			return gi < gj
		case iInGroup:
			return true
		case jInGroup:
			return false
		default:
			return false
		}
	})
	return order
}
