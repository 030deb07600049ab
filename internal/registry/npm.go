/*
Package registry is the single concrete implementation of
internal/fetch.Registry: an HTTP client for the public npm registry,
serving the "view"/"tarball extraction"/"install fallback" primitives
kept opaque from the planner's point of view.
*/
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxmigrate/migrate/internal/fetch"
	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/semverutil"
)

const defaultBaseURL = "https://registry.npmjs.org"

// NPM talks to a real (or test-server) npm registry over HTTP, grounded
// on the abbreviated-metadata-document + tarball-download shape used
// throughout the npm ecosystem's own tooling.
type NPM struct {
	baseURL    string
	client     *http.Client
	scratchDir string
}

// New constructs an NPM registry client. scratchDir is where
// InstallFallback keeps a copy of the migrations file it read; "" keeps
// no copy.
func New(scratchDir string) *NPM {
	return &NPM{
		baseURL:    defaultBaseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		scratchDir: scratchDir,
	}
}

type abbreviatedPackument struct {
	Name     string                       `json:"name"`
	DistTags map[string]string            `json:"dist-tags"`
	Versions map[string]abbreviatedVersion `json:"versions"`
}

type abbreviatedVersion struct {
	Version      string          `json:"version"`
	NxMigrations json.RawMessage `json:"nx-migrations,omitempty"`
	NgUpdate     json.RawMessage `json:"ng-update,omitempty"`
	Dist         distInfo        `json:"dist"`
}

type distInfo struct {
	Tarball string `json:"tarball"`
}

// migrationsPointer is the shape of a "nx-migrations"/"ng-update" field:
// either a bare string (the migrations file path) or an object naming it.
type migrationsPointer struct {
	Migrations string `json:"migrations"`
}

func (a abbreviatedVersion) migrationsFile() string {
	for _, raw := range [][]byte{a.NxMigrations, a.NgUpdate} {
		if len(raw) == 0 {
			continue
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
			return asString
		}
		var pointer migrationsPointer
		if err := json.Unmarshal(raw, &pointer); err == nil && pointer.Migrations != "" {
			return pointer.Migrations
		}
	}
	return ""
}

func (r *NPM) fetchPackument(ctx context.Context, name string) (*abbreviatedPackument, error) {
	url := r.baseURL + "/" + escapePackageName(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: fetching %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: %s: unexpected status %s", name, resp.Status)
	}

	var doc abbreviatedPackument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: decoding packument for %s: %w", name, err)
	}
	return &doc, nil
}

// escapePackageName escapes a scoped package name ("@nrwl/workspace") for
// use as a single path segment, the way the npm registry itself expects.
func escapePackageName(name string) string {
	return strings.ReplaceAll(name, "/", "%2F")
}

// ResolveVersion implements fetch.Registry.
func (r *NPM) ResolveVersion(ctx context.Context, name, requested string) (string, error) {
	doc, err := r.fetchPackument(ctx, name)
	if err != nil {
		return "", err
	}

	if tagged, ok := doc.DistTags[requested]; ok {
		return tagged, nil
	}

	best := ""
	for version := range doc.Versions {
		if !semverutil.Satisfies(version, requested, semverutil.SatisfiesOptions{}) {
			continue
		}
		if best == "" || semverutil.Gt(version, best) {
			best = version
		}
	}
	if best == "" {
		return "", fetch.ErrNoMatchingVersion
	}
	return best, nil
}

// ViewConfig implements fetch.Registry.
func (r *NPM) ViewConfig(ctx context.Context, name, version string) (*fetch.Config, error) {
	doc, err := r.fetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := doc.Versions[version]
	if !ok {
		return nil, fmt.Errorf("registry: %s@%s: version not found", name, version)
	}

	migrationsFile := v.migrationsFile()
	return &fetch.Config{MigrationsFile: migrationsFile}, nil
}

// DownloadMigrationsFile implements fetch.Registry: it downloads the
// package's tarball and extracts entryPath from it.
func (r *NPM) DownloadMigrationsFile(ctx context.Context, name, version, entryPath string) ([]byte, error) {
	doc, err := r.fetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := doc.Versions[version]
	if !ok {
		return nil, fmt.Errorf("registry: %s@%s: version not found", name, version)
	}
	return r.downloadTarballEntry(ctx, v.Dist.Tarball, entryPath)
}

func (r *NPM) downloadTarballEntry(ctx context.Context, tarballURL, entryPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: downloading %s: %w", tarballURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: %s: unexpected status %s", tarballURL, resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: ungzipping tarball: %w", err)
	}
	defer gz.Close()

	// npm tarballs nest every file under a "package/" prefix.
	wanted := path.Join("package", entryPath)

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("registry: %s not found in tarball", entryPath)
		}
		if err != nil {
			return nil, fmt.Errorf("registry: reading tarball: %w", err)
		}
		if path.Clean(hdr.Name) != wanted {
			continue
		}
		return io.ReadAll(tr)
	}
}

// InstallFallback implements fetch.Registry: it fetches the packument
// again, streams the version's tarball, extracts only the migrations file
// in memory and parses that, then writes a copy of the file under
// scratchDir. It does not run a package-manager install, it does not
// extract the rest of the tarball, and it does not read the document back
// from disk; a version with no migrations field yields a document that
// carries only its version.
func (r *NPM) InstallFallback(ctx context.Context, name, version string) (*migrate.Document, error) {
	doc, err := r.fetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := doc.Versions[version]
	if !ok {
		return nil, fmt.Errorf("registry: %s@%s: version not found", name, version)
	}

	migrationsFile := v.migrationsFile()
	if migrationsFile == "" {
		return &migrate.Document{Version: version}, nil
	}

	raw, err := r.downloadTarballEntry(ctx, v.Dist.Tarball, migrationsFile)
	if err != nil {
		return nil, fmt.Errorf("registry: install fallback for %s@%s: %w", name, version, err)
	}

	parsed, err := migrate.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: parsing fallback migrations document for %s@%s: %w", name, version, err)
	}
	parsed.Version = version

	if r.scratchDir != "" {
		dir := filepath.Join(r.scratchDir, strings.ReplaceAll(name, "/", "_")+"-"+version)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(dir, filepath.Base(migrationsFile)), raw, 0o644)
		}
	}

	return parsed, nil
}
