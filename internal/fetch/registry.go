package fetch

import (
	"context"
	"errors"

	"github.com/nxmigrate/migrate/internal/migrate"
)

// Registry is the external collaborator kept opaque: the
// registry `view`, `pack`, and tarball-extraction primitives, plus a
// last-resort "install into a scratch directory" fallback. Nothing in this
// package knows or cares whether an implementation talks to a real npm
// registry over HTTP, a local file cache, or a test double.
type Registry interface {
	// ResolveVersion resolves a range or tag ("^2.0.0", "latest", "next")
	// to a concrete version. It returns ErrNoMatchingVersion if the range
	// has no matching published version.
	ResolveVersion(ctx context.Context, name, requested string) (string, error)

	// ViewConfig returns the package-group/migrations-file shape for
	// name@version, or (nil, nil) if the registry has no config at all for
	// that version.
	ViewConfig(ctx context.Context, name, version string) (*Config, error)

	// DownloadMigrationsFile retrieves and returns the raw bytes of the
	// named migrations file from name@version's tarball.
	DownloadMigrationsFile(ctx context.Context, name, version, path string) ([]byte, error)

	// InstallFallback installs name@version into a scratch directory and
	// reads its migrations document from disk. Used when the registry
	// itself is unreachable.
	InstallFallback(ctx context.Context, name, version string) (*migrate.Document, error)
}

// Config is the migration-relevant slice of a package version's registry
// metadata.
type Config struct {
	PackageGroup []migrate.PackageGroupEntry
	// MigrationsFile is the path of the migrations file inside the
	// package's tarball, or "" if the version has no migrations field.
	MigrationsFile string
}

// ErrNoMatchingVersion is returned by Registry.ResolveVersion when the
// requested range or tag has no matching published version. Unlike other
// registry failures, this does not trigger the fallback install path: it's
// a legitimate answer, not an outage.
var ErrNoMatchingVersion = errors.New("fetch: no matching version")
