package plan

import (
	"context"

	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

// deriveMigrations walks every package the plan touched, in the order it
// was first visited, and admits the generators strictly between the
// installed and planned versions whose requires are satisfied by the
// final plan. A generator at or below the currently installed version is
// assumed already applied and is dropped — except, with
// --excludeAppliedMigrations, one whose requires predicate would have
// failed at the time it would have run, which was previously skipped
// rather than applied, and so stays in regardless of version.
func (m *Migrator) deriveMigrations(ctx context.Context) ([]migrate.MigrationEntry, error) {
	var entries []migrate.MigrationEntry

	for _, pkg := range m.visitOrder {
		pu := m.packageUpdates[pkg]

		installedVersion, isInstalled := m.resolver.Resolve(pkg)
		if !isInstalled {
			continue
		}

		doc, err := m.fetcher.Fetch(ctx, pkg, pu.Version)
		if err != nil {
			return nil, err
		}
		if doc.Generators == nil {
			continue
		}

		for _, name := range doc.Generators.Keys() {
			g, _ := doc.Generators.Get(name)
			if g.Version == "" {
				continue
			}
			if semverutil.Gt(g.Version, pu.Version) {
				continue
			}
			if !semverutil.Gt(g.Version, installedVersion) {
				if !m.excludeAppliedMigrations || !m.wasPreviouslySkipped(g.Requires) {
					continue
				}
			}
			if !m.requiresSatisfiedAgainstPlan(g.Requires) {
				continue
			}

			entries = append(entries, migrate.MigrationEntry{
				Package:        pkg,
				Name:           name,
				Version:        g.Version,
				Description:    g.Description,
				CLI:            g.CLI,
				Implementation: g.Implementation,
				Factory:        g.Factory,
			})
		}
	}

	return entries, nil
}
