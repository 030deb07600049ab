/*
Package installed resolves the version of a package currently present in
the workspace: overrides win if supplied, otherwise the package's
manifest is located by walking node_modules resolution paths rooted at
the workspace directory.
*/
package installed

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// legacyNxAlias is the one renamed package this resolver knows about: if
// "nx" isn't installed, the resolver retries under the package's old name.
const (
	nxPackage       = "nx"
	legacyNxAlias   = "@nrwl/workspace"
)

// Resolver resolves the installed version of a package in a workspace,
// honoring caller-supplied overrides and caching positive lookups for the
// lifetime of the planner instance that owns it.
type Resolver struct {
	fs        afero.Fs
	root      string
	overrides map[string]string

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Resolver rooted at root, using fs to read package.json
// files (afero.NewOsFs() for a real workspace, an in-memory afero.Fs in
// tests).
func New(fs afero.Fs, root string, overrides map[string]string) *Resolver {
	return &Resolver{
		fs:        fs,
		root:      root,
		overrides: overrides,
		cache:     make(map[string]string),
	}
}

// Resolve returns the installed version of name, or "" with ok=false if
// it isn't installed. Overrides supplied at construction always win.
func (r *Resolver) Resolve(name string) (version string, ok bool) {
	if v, present := r.overrides[name]; present {
		return v, true
	}

	r.mu.Lock()
	if v, present := r.cache[name]; present {
		r.mu.Unlock()
		return v, true
	}
	r.mu.Unlock()

	if v, found := r.lookup(name); found {
		r.mu.Lock()
		r.cache[name] = v
		r.mu.Unlock()
		return v, true
	}

	if name == nxPackage {
		if v, found := r.lookup(legacyNxAlias); found {
			r.mu.Lock()
			r.cache[name] = v
			r.mu.Unlock()
			return v, true
		}
	}

	return "", false
}

type packageManifest struct {
	Version string `json:"version"`
}

// lookup walks node_modules directories from the workspace root upward
// through its ancestors, mirroring Node's module resolution algorithm,
// looking for <dir>/node_modules/<name>/package.json.
func (r *Resolver) lookup(name string) (string, bool) {
	dir := r.root
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name), "package.json")
		if raw, err := afero.ReadFile(r.fs, candidate); err == nil {
			var manifest packageManifest
			if json.Unmarshal(raw, &manifest) == nil && manifest.Version != "" {
				return manifest.Version, true
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
