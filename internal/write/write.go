package write

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/nxmigrate/migrate/internal/migrate"
)

// Options configures where WritePlan finds and writes the workspace's
// persisted state.
type Options struct {
	// WorkspaceRoot is the directory migrations.json and (by default) the
	// manifest and workspace config files live in.
	WorkspaceRoot string
	// ManifestPath overrides the package.json location; defaults to
	// <WorkspaceRoot>/package.json.
	ManifestPath string
	// ConfigPath overrides the workspace config file location (the one
	// that declares the installation block); defaults to
	// <WorkspaceRoot>/nx.json. Pass the same path as ManifestPath if a
	// workspace keeps installation inside package.json itself.
	ConfigPath string
	// ToolRootPackage is the package whose plan entry pins
	// installation.version (normally "nx" or its legacy alias).
	ToolRootPackage string
	// InstalledToolRootVersion is the tool-root package's version before
	// this plan was computed, used to detect the §4.8 configuration-split
	// threshold crossing.
	InstalledToolRootVersion string
}

func (o Options) manifestPath() string {
	if o.ManifestPath != "" {
		return o.ManifestPath
	}
	return filepath.Join(o.WorkspaceRoot, "package.json")
}

func (o Options) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return filepath.Join(o.WorkspaceRoot, "nx.json")
}

func (o Options) migrationsPath() string {
	return filepath.Join(o.WorkspaceRoot, "migrations.json")
}

// WritePlan applies plan's package updates to the manifest, updates the
// workspace config file's installation pins, and emits migrations.json.
// A missing manifest is not an error — the manifest update is silently
// skipped, since a plan writer has nothing to write a version bump into.
func WritePlan(fs afero.Fs, plan *migrate.Plan, opts Options) error {
	if opts.configPath() == opts.manifestPath() {
		// Installation lives in the same file as the dependency update;
		// fold both into one read-modify-write instead of two passes that
		// would race each other.
		if err := writeManifestAndInstallation(fs, opts.manifestPath(), plan, opts.ToolRootPackage); err != nil {
			return err
		}
	} else {
		if err := writeManifest(fs, opts.manifestPath(), plan); err != nil {
			return err
		}
		if err := writeInstallation(fs, opts.configPath(), plan, opts.ToolRootPackage); err != nil {
			return err
		}
	}

	migrations := BuildMigrations(plan, opts.InstalledToolRootVersion)
	raw, err := MarshalMigrationsFile(migrations)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(fs, opts.migrationsPath(), raw, 0o644); err != nil {
		return err
	}
	return nil
}

func readManifest(fs afero.Fs, path string) (*Manifest, bool, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("write: reading %s: %w", path, err)
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, false, err
	}
	return manifest, true, nil
}

func writeManifest(fs afero.Fs, path string, plan *migrate.Plan) error {
	manifest, ok, err := readManifest(fs, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := manifest.ApplyPackageUpdates(plan.PackageUpdates); err != nil {
		return err
	}
	out, err := manifest.Marshal()
	if err != nil {
		return err
	}
	return atomicWriteFile(fs, path, out, 0o644)
}

func writeInstallation(fs afero.Fs, path string, plan *migrate.Plan, toolRootPackage string) error {
	manifest, ok, err := readManifest(fs, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := manifest.UpdateInstallation(toolRootPackage, plan.PackageUpdates); err != nil {
		return err
	}
	out, err := manifest.Marshal()
	if err != nil {
		return err
	}
	return atomicWriteFile(fs, path, out, 0o644)
}

func writeManifestAndInstallation(fs afero.Fs, path string, plan *migrate.Plan, toolRootPackage string) error {
	manifest, ok, err := readManifest(fs, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := manifest.ApplyPackageUpdates(plan.PackageUpdates); err != nil {
		return err
	}
	if err := manifest.UpdateInstallation(toolRootPackage, plan.PackageUpdates); err != nil {
		return err
	}
	out, err := manifest.Marshal()
	if err != nil {
		return err
	}
	return atomicWriteFile(fs, path, out, 0o644)
}
