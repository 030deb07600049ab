/*
Package write implements the plan writer: applying a computed Plan to the
workspace's package.json and workspace configuration file, and emitting
the ordered migrations.json the runner consumes.
*/
package write

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nxmigrate/migrate/internal/migrate"
)

// Manifest is a package.json (or workspace-config-file) document kept as
// an ordered map of raw top-level values, so that fields this writer
// never touches keep their values and their original position. Marshal
// re-indents the whole document with two spaces, so the original
// whitespace is not preserved.
// No formatting-preserving JSON library exists anywhere in the example
// pack, so trailing-newline preservation is done by hand (see DESIGN.md).
type Manifest struct {
	fields          *migrate.OrderedMap[json.RawMessage]
	trailingNewline bool
}

// ParseManifest reads raw as a Manifest, recording whether the source
// ended in a trailing newline so Marshal can restore it.
func ParseManifest(raw []byte) (*Manifest, error) {
	fields := migrate.NewOrderedMap[json.RawMessage]()
	if err := json.Unmarshal(raw, fields); err != nil {
		return nil, fmt.Errorf("write: parsing manifest: %w", err)
	}
	return &Manifest{
		fields:          fields,
		trailingNewline: bytes.HasSuffix(raw, []byte("\n")),
	}, nil
}

// Marshal re-serializes the manifest, restoring the original file's
// trailing-newline convention.
func (m *Manifest) Marshal() ([]byte, error) {
	out, err := m.fields.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("write: marshaling manifest: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		return nil, fmt.Errorf("write: indenting manifest: %w", err)
	}
	result := pretty.Bytes()
	if m.trailingNewline {
		result = append(result, '\n')
	}
	return result, nil
}

// section returns the named top-level object field as an ordered
// name->version map, or nil if the manifest doesn't declare it.
func (m *Manifest) section(name string) (*migrate.OrderedMap[string], error) {
	raw, ok := m.fields.Get(name)
	if !ok {
		return nil, nil
	}
	section := migrate.NewOrderedMap[string]()
	if err := json.Unmarshal(raw, section); err != nil {
		return nil, fmt.Errorf("write: parsing %q: %w", name, err)
	}
	return section, nil
}

func (m *Manifest) setSection(name string, section *migrate.OrderedMap[string]) error {
	raw, err := section.MarshalJSON()
	if err != nil {
		return fmt.Errorf("write: marshaling %q: %w", name, err)
	}
	m.fields.Set(name, raw)
	return nil
}

// ApplyPackageUpdates applies the manifest-update rule: for each (pkg,
// update) in the plan, overwrite its version wherever it's
// already declared (dev-dependencies checked before dependencies), else
// insert it under update.AddToPackageJSON's section if that's set.
func (m *Manifest) ApplyPackageUpdates(updates map[string]migrate.PackageUpdate) error {
	deps, err := m.section("dependencies")
	if err != nil {
		return err
	}
	devDeps, err := m.section("devDependencies")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(updates))
	for pkg := range updates {
		names = append(names, pkg)
	}
	sort.Strings(names)

	depsChanged, devDepsChanged := false, false
	for _, pkg := range names {
		u := updates[pkg]

		if devDeps != nil {
			if _, present := devDeps.Get(pkg); present {
				devDeps.Set(pkg, u.Version)
				devDepsChanged = true
				continue
			}
		}
		if deps != nil {
			if _, present := deps.Get(pkg); present {
				deps.Set(pkg, u.Version)
				depsChanged = true
				continue
			}
		}

		switch u.AddToPackageJSON {
		case migrate.Dependencies:
			if deps == nil {
				deps = migrate.NewOrderedMap[string]()
			}
			deps.Set(pkg, u.Version)
			depsChanged = true
		case migrate.DevDependencies:
			if devDeps == nil {
				devDeps = migrate.NewOrderedMap[string]()
			}
			devDeps.Set(pkg, u.Version)
			devDepsChanged = true
		}
	}

	if depsChanged {
		if err := m.setSection("dependencies", deps); err != nil {
			return err
		}
	}
	if devDepsChanged {
		if err := m.setSection("devDependencies", devDeps); err != nil {
			return err
		}
	}
	return nil
}

// installation mirrors the workspace config file's installation block:
// a pinned tool-root version plus a map of pinned plugin versions.
type installation struct {
	Version string                      `json:"version"`
	Plugins *migrate.OrderedMap[string] `json:"plugins,omitempty"`
}

// UpdateInstallation applies the installation-version update: if the
// manifest declares an installation block, pin its
// version to the plan's entry for toolRootPackage, and update any
// pinned plugin also present in the plan.
func (m *Manifest) UpdateInstallation(toolRootPackage string, updates map[string]migrate.PackageUpdate) error {
	raw, ok := m.fields.Get("installation")
	if !ok {
		return nil
	}

	var inst installation
	if err := json.Unmarshal(raw, &inst); err != nil {
		return fmt.Errorf("write: parsing installation block: %w", err)
	}

	changed := false
	if u, ok := updates[toolRootPackage]; ok {
		inst.Version = u.Version
		changed = true
	}
	if inst.Plugins != nil {
		for _, name := range inst.Plugins.Keys() {
			if u, ok := updates[name]; ok {
				inst.Plugins.Set(name, u.Version)
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}

	encoded, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("write: marshaling installation block: %w", err)
	}
	m.fields.Set("installation", encoded)
	return nil
}
