/*
Package fetch resolves `name@range` to a concrete version and retrieves
that version's migration document from the registry, with two-level
memoization: concurrent callers for the same key join the same in-flight
request rather than issuing duplicate registry calls.

The in-flight de-duplication is delegated to
github.com/golang/groupcache/singleflight, the same primitive groupcache
itself uses internally to collapse concurrent Gets for a cold key. Results
are then memoized in a planner-scoped map so that later, non-concurrent
callers don't re-issue the request either.
*/
package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/groupcache/singleflight"

	"github.com/nxmigrate/migrate/internal/migrate"
)

// Fetcher resolves versions and fetches migration documents against a
// Registry, memoizing both. A Fetcher is scoped to a single planner
// invocation: construct a fresh one per run so its caches start empty.
type Fetcher struct {
	registry Registry

	resolveFlight    singleflight.Group
	migrationsFlight singleflight.Group

	mu               sync.Mutex
	resolvedVersions map[string]string             // "name-requested" -> resolved version
	documents        map[string]*migrate.Document  // "name-version" -> document
}

// New creates a Fetcher backed by the given Registry.
func New(registry Registry) *Fetcher {
	return &Fetcher{
		registry:         registry,
		resolvedVersions: make(map[string]string),
		documents:        make(map[string]*migrate.Document),
	}
}

func cacheKey(name, version string) string {
	return name + "-" + version
}

// Fetch consults the migrations cache, then the resolved-version cache,
// then the registry's view/tarball path, falling back to an install-based
// fetch on registry failure (but not on ErrNoMatchingVersion, which is a
// legitimate answer, not an outage).
func (f *Fetcher) Fetch(ctx context.Context, name, requestedVersion string) (*migrate.Document, error) {
	requestedKey := cacheKey(name, requestedVersion)

	// Step 1: migrationsCache[name-version] already resolved?
	if doc, ok := f.getDocument(requestedKey); ok {
		return doc, nil
	}

	// Step 2: resolve the requested range/tag to a concrete version.
	resolved, err := f.resolveVersion(ctx, name, requestedVersion)
	if err != nil {
		if err == ErrNoMatchingVersion {
			return nil, fmt.Errorf("%s@%s: %w", name, requestedVersion, err)
		}
		// Registry unreachable or view failed: fall back to install.
		return f.fallbackInstall(ctx, requestedKey, name, requestedVersion)
	}

	// Step 3: reuse the resolved document if we've already fetched it
	// under its canonical key.
	resolvedKey := cacheKey(name, resolved)
	if resolved != requestedVersion {
		if doc, ok := f.getDocument(resolvedKey); ok {
			f.putDocument(requestedKey, doc)
			return doc, nil
		}
	}

	// Step 4: fetch the migration document for the canonical version,
	// joining any in-flight request for the same key.
	// The document is cached inside the flight, so a caller that arrives
	// just after the flight ends finds it instead of fetching again.
	v, err := f.migrationsFlight.Do(resolvedKey, func() (interface{}, error) {
		if doc, ok := f.getDocument(resolvedKey); ok {
			return doc, nil
		}
		doc, err := f.fetchDocument(ctx, name, resolved)
		if err != nil {
			return nil, err
		}
		f.putDocument(resolvedKey, doc.(*migrate.Document))
		return doc, nil
	})
	if err != nil {
		// Step 5: registry view/tarball failure falls back to install.
		return f.fallbackInstall(ctx, requestedKey, name, resolved)
	}

	doc := v.(*migrate.Document)
	f.putDocument(resolvedKey, doc)
	f.putDocument(requestedKey, doc)
	return doc, nil
}

func (f *Fetcher) resolveVersion(ctx context.Context, name, requested string) (string, error) {
	key := cacheKey(name, requested)

	f.mu.Lock()
	if v, ok := f.resolvedVersions[key]; ok {
		f.mu.Unlock()
		return v, nil
	}
	f.mu.Unlock()

	// The result is cached inside the flight, so a caller that arrives
	// just after the flight ends finds it instead of resolving again.
	v, err := f.resolveFlight.Do(key, func() (interface{}, error) {
		f.mu.Lock()
		cached, ok := f.resolvedVersions[key]
		f.mu.Unlock()
		if ok {
			return cached, nil
		}
		resolved, err := f.registry.ResolveVersion(ctx, name, requested)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.resolvedVersions[key] = resolved
		f.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchDocument implements step 4's config/tarball logic.
func (f *Fetcher) fetchDocument(ctx context.Context, name, resolved string) (interface{}, error) {
	cfg, err := f.registry.ViewConfig(ctx, name, resolved)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &migrate.Document{Version: resolved}, nil
	}
	if cfg.MigrationsFile == "" {
		return &migrate.Document{Version: resolved, PackageGroup: cfg.PackageGroup}, nil
	}

	raw, err := f.registry.DownloadMigrationsFile(ctx, name, resolved, cfg.MigrationsFile)
	if err != nil {
		return nil, fmt.Errorf("fetch: extracting migrations file for %s@%s: %w", name, resolved, err)
	}

	doc, err := migrate.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch: parsing migrations file for %s@%s: %w", name, resolved, err)
	}
	doc.Version = resolved
	doc.PackageGroup = cfg.PackageGroup
	return doc, nil
}

func (f *Fetcher) fallbackInstall(ctx context.Context, requestedKey, name, version string) (*migrate.Document, error) {
	v, err := f.migrationsFlight.Do("install-"+requestedKey, func() (interface{}, error) {
		return f.registry.InstallFallback(ctx, name, version)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: install fallback for %s@%s: %w", name, version, err)
	}
	doc := v.(*migrate.Document)
	f.putDocument(requestedKey, doc)
	if doc.Version != "" {
		f.putDocument(cacheKey(name, doc.Version), doc)
	}
	return doc, nil
}

func (f *Fetcher) getDocument(key string) (*migrate.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[key]
	return doc, ok
}

func (f *Fetcher) putDocument(key string, doc *migrate.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[key] = doc
}
