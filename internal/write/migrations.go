package write

import (
	"encoding/json"
	"fmt"

	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

// legacyWorkspacePackage mirrors internal/plan's package-group override:
// the one package name this tool calls out by name for the synthetic
// configuration-split migration.
const legacyWorkspacePackage = "@nrwl/workspace"

// configSplitThreshold is the version that, once crossed,
// means the workspace's per-project configuration moved out of nx.json
// and into individual project.json files, a transformation this tool's
// own migration graph has no entry for because it predates the package's
// present-day migrations.json format.
const configSplitThreshold = "15.7.0-beta.0"

// migrationsFile is the on-disk shape of migrations.json.
type migrationsFile struct {
	Migrations []migrate.MigrationEntry `json:"migrations"`
}

// BuildMigrations returns the final ordered migrations list, with the
// synthetic configuration-split migration
// prepended when the plan carries @nrwl/workspace across the threshold
// version and installedVersion is the version it was at before the plan
// (so crossing can actually be detected).
func BuildMigrations(plan *migrate.Plan, installedVersion string) []migrate.MigrationEntry {
	entries := plan.Migrations

	workspaceUpdate, ok := plan.PackageUpdates[legacyWorkspacePackage]
	if ok && installedVersion != "" &&
		semverutil.Lt(installedVersion, configSplitThreshold) &&
		!semverutil.Gt(configSplitThreshold, workspaceUpdate.Version) {
		synthetic := migrate.MigrationEntry{
			Version:        configSplitThreshold,
			Package:        legacyWorkspacePackage,
			Name:           "15-7-0-split-configuration-into-project-json-files",
			Implementation: "./src/migrations/update-15-7-0/split-configuration-into-project-json-files",
			CLI:            "nx",
		}
		entries = append([]migrate.MigrationEntry{synthetic}, entries...)
	}

	return entries
}

// MarshalMigrationsFile renders the migrations list as migrations.json's
// {"migrations": [...]} wrapper.
func MarshalMigrationsFile(entries []migrate.MigrationEntry) ([]byte, error) {
	out, err := json.MarshalIndent(migrationsFile{Migrations: entries}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("write: marshaling migrations file: %w", err)
	}
	return append(out, '\n'), nil
}
