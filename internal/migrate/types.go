/*
Package migrate holds the data model shared by the fetcher, the planner,
the plan writer and the runner: the shape of a registry-fetched migration
document, the accumulating package-update plan, and the final migration
list. None of these types carry behavior of their own beyond JSON
(de)serialization; the planning logic lives in internal/plan.
*/
package migrate

import "encoding/json"

// DependencySection is the tri-state "false | 'dependencies' |
// 'devDependencies'". The zero value (empty string) means
// false: do not add the package to the manifest if it's not already
// there.
type DependencySection string

const (
	NoSection       DependencySection = ""
	Dependencies    DependencySection = "dependencies"
	DevDependencies DependencySection = "devDependencies"
)

// PackageUpdate is one entry of the planner's accumulating plan: the
// version a package is being raised to, and whether (and where) it should
// be inserted into the manifest if it isn't present yet.
type PackageUpdate struct {
	Version          string            `json:"version"`
	AddToPackageJSON DependencySection `json:"-"`
}

// PackageGroupEntry is one sibling in a migration document's packageGroup.
// Version is either a concrete version or the literal "*", meaning "same
// version as the document this group was declared in".
type PackageGroupEntry struct {
	Package string `json:"package"`
	Version string `json:"version"`
}

// PackageJSONUpdatePackage is one entry of a PackageJSONUpdate's packages
// map: the version a peer should be bumped to, and the conditions under
// which that bump applies.
type PackageJSONUpdatePackage struct {
	Version                string `json:"version"`
	AlwaysAddToPackageJSON bool   `json:"alwaysAddToPackageJson,omitempty"`
	AddToPackageJSON       any    `json:"addToPackageJson,omitempty"` // bool or DependencySection
	IfPackageInstalled     string `json:"ifPackageInstalled,omitempty"`
}

// PackageJSONUpdate is one conditional rule from a migration document's
// packageJsonUpdates map.
type PackageJSONUpdate struct {
	Version  string                              `json:"version"`
	Packages map[string]PackageJSONUpdatePackage `json:"packages,omitempty"`
	Requires map[string]string                   `json:"requires,omitempty"`
	XPrompt  string                              `json:"x-prompt,omitempty"`
}

// Generator is one migration script descriptor from a migration
// document's generators (alias schematics) map.
type Generator struct {
	Version        string            `json:"version"`
	Requires       map[string]string `json:"requires,omitempty"`
	Description    string            `json:"description,omitempty"`
	Implementation string            `json:"implementation,omitempty"`
	Factory        string            `json:"factory,omitempty"`
	CLI            string            `json:"cli,omitempty"` // "nx" (default) | "angular"
}

// ImplementationPath returns whichever of Implementation/Factory is set,
// preferring Implementation, matching the runner's "implementation ||
// factory" lookup rule.
func (g Generator) ImplementationPath() string {
	if g.Implementation != "" {
		return g.Implementation
	}
	return g.Factory
}

// Document is a fetched migration document for a single package@version.
type Document struct {
	// Version is the canonical version this document represents; it may
	// differ from the version that was requested if a range was resolved.
	Version string `json:"version"`

	PackageGroup []PackageGroupEntry `json:"packageGroup,omitempty"`

	PackageJSONUpdates *OrderedMap[PackageJSONUpdate] `json:"packageJsonUpdates,omitempty"`

	Generators *OrderedMap[Generator] `json:"generators,omitempty"`

	// packageGroupOrder is populated by the package-group expansion step
	// (not part of the wire format) and records the declared order of
	// group siblings, for downstream recursion ordering.
	packageGroupOrder []string
}

// ParseDocument parses a migration document from raw JSON and rewrites
// the legacy "schematics" key to "generators" in place.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := doc.RewriteLegacyGenerators(raw); err != nil {
		return nil, err
	}
	return &doc, nil
}

// legacyDocument is used only to detect and rewrite the legacy
// "schematics" key to "generators" during unmarshaling.
type legacyDocument struct {
	Schematics *OrderedMap[Generator] `json:"schematics,omitempty"`
}

// RewriteLegacyGenerators rewrites the legacy "schematics" key to
// "generators" in place, as the fetcher's step 6 requires. raw is the
// original JSON payload the document was parsed from.
func (d *Document) RewriteLegacyGenerators(raw []byte) error {
	if d.Generators != nil && d.Generators.Len() > 0 {
		return nil
	}
	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return err
	}
	if legacy.Schematics != nil {
		d.Generators = legacy.Schematics
	}
	return nil
}

// PackageGroupOrder returns the declared order of this document's
// package-group siblings, as computed by the group-expansion step.
func (d *Document) PackageGroupOrder() []string {
	return d.packageGroupOrder
}

// SetPackageGroupOrder records the declared order of group siblings.
func (d *Document) SetPackageGroupOrder(order []string) {
	d.packageGroupOrder = order
}

// MigrationEntry is one item of the final, ordered migrations list: a
// Generator annotated with which package and script name it came from.
type MigrationEntry struct {
	Package        string `json:"package"`
	Name           string `json:"name"`
	Version        string `json:"version"`
	Description    string `json:"description,omitempty"`
	CLI            string `json:"cli,omitempty"`
	Implementation string `json:"implementation,omitempty"`
	Factory        string `json:"factory,omitempty"`
}

// ImplementationPath returns whichever of Implementation/Factory is set,
// preferring Implementation, matching the runner's "implementation ||
// factory" lookup rule.
func (m MigrationEntry) ImplementationPath() string {
	if m.Implementation != "" {
		return m.Implementation
	}
	return m.Factory
}

// Plan is the output of the planner: the full package-update set plus the
// ordered list of migrations that realize it.
type Plan struct {
	PackageUpdates map[string]PackageUpdate
	Migrations     []MigrationEntry
}
