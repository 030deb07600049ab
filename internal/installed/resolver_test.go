package installed

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, fs afero.Fs, path, version string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(path[:len(path)-len("/package.json")], 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"version":"`+version+`"}`), 0o644))
}

func TestResolveFindsInstalledVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeManifest(t, fs, "/workspace/node_modules/pkg/package.json", "1.2.3")

	r := New(fs, "/workspace", nil)
	v, ok := r.Resolve("pkg")
	require.True(t, ok)
	require.Equal(t, "1.2.3", v)
}

func TestResolveMissingPackage(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/workspace", nil)
	_, ok := r.Resolve("missing")
	require.False(t, ok)
}

func TestResolveOverridesWin(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeManifest(t, fs, "/workspace/node_modules/pkg/package.json", "1.2.3")

	r := New(fs, "/workspace", map[string]string{"pkg": "9.9.9"})
	v, ok := r.Resolve("pkg")
	require.True(t, ok)
	require.Equal(t, "9.9.9", v)
}

func TestResolveLegacyNxAlias(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeManifest(t, fs, "/workspace/node_modules/@nrwl/workspace/package.json", "13.0.0")

	r := New(fs, "/workspace", nil)
	v, ok := r.Resolve("nx")
	require.True(t, ok)
	require.Equal(t, "13.0.0", v)
}

func TestResolveCachesPositiveLookups(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeManifest(t, fs, "/workspace/node_modules/pkg/package.json", "1.0.0")

	r := New(fs, "/workspace", nil)
	v1, _ := r.Resolve("pkg")
	require.Contains(t, r.cache, "pkg")
	v2, _ := r.Resolve("pkg")
	require.Equal(t, v1, v2)
}
