package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxmigrate/migrate/internal/fetch"
)

func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "package/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestResolveVersionPrefersDistTag(t *testing.T) {
	tarball := buildTarball(t, map[string]string{})

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	packument := `{"name":"@nrwl/workspace","dist-tags":{"latest":"15.8.0"},"versions":{
		"15.0.0":{"version":"15.0.0","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}},
		"15.8.0":{"version":"15.8.0","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}}
	}}`
	mux.HandleFunc("/@nrwl%2Fworkspace", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packument))
	})
	mux.HandleFunc("/tarball.tgz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarball)
	})

	reg := New(t.TempDir())
	reg.baseURL = srv.URL

	version, err := reg.ResolveVersion(context.Background(), "@nrwl/workspace", "latest")
	require.NoError(t, err)
	require.Equal(t, "15.8.0", version)
}

func TestResolveVersionSatisfiesRange(t *testing.T) {
	tarball := buildTarball(t, map[string]string{})

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	packument := `{"name":"@nrwl/workspace","dist-tags":{"latest":"15.8.0"},"versions":{
		"14.0.0":{"version":"14.0.0","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}},
		"14.5.0":{"version":"14.5.0","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}},
		"15.8.0":{"version":"15.8.0","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}}
	}}`
	mux.HandleFunc("/@nrwl%2Fworkspace", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packument))
	})
	mux.HandleFunc("/tarball.tgz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarball)
	})

	reg := New(t.TempDir())
	reg.baseURL = srv.URL

	version, err := reg.ResolveVersion(context.Background(), "@nrwl/workspace", "^14.0.0")
	require.NoError(t, err)
	require.Equal(t, "14.5.0", version)
}

func TestResolveVersionNoMatchReturnsSentinel(t *testing.T) {
	packument := `{"name":"@nrwl/workspace","dist-tags":{"latest":"15.8.0"},"versions":{
		"15.8.0":{"version":"15.8.0","dist":{"tarball":"x"}}
	}}`
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/@nrwl%2Fworkspace", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packument))
	})

	reg := New(t.TempDir())
	reg.baseURL = srv.URL

	_, err := reg.ResolveVersion(context.Background(), "@nrwl/workspace", "^99.0.0")
	require.ErrorIs(t, err, fetch.ErrNoMatchingVersion)
}

func TestDownloadMigrationsFileExtractsTarballEntry(t *testing.T) {
	tarball := buildTarball(t, map[string]string{
		"migrations.json": `{"migrations":[]}`,
	})

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	packument := `{"name":"@nrwl/workspace","dist-tags":{"latest":"15.8.0"},"versions":{
		"15.8.0":{"version":"15.8.0","nx-migrations":"migrations.json","dist":{"tarball":"` + srv.URL + `/tarball.tgz"}}
	}}`
	mux.HandleFunc("/@nrwl%2Fworkspace", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packument))
	})
	mux.HandleFunc("/tarball.tgz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarball)
	})

	reg := New(t.TempDir())
	reg.baseURL = srv.URL

	cfg, err := reg.ViewConfig(context.Background(), "@nrwl/workspace", "15.8.0")
	require.NoError(t, err)
	require.Equal(t, "migrations.json", cfg.MigrationsFile)

	raw, err := reg.DownloadMigrationsFile(context.Background(), "@nrwl/workspace", "15.8.0", "migrations.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"migrations":[]}`, string(raw))
}

