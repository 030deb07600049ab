package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxmigrate/migrate/internal/migrate"
)

type fakeRegistry struct {
	mu            sync.Mutex
	resolveCalls  int32
	viewCalls     int32
	resolved      map[string]string
	configs       map[string]*Config
	migrationsRaw map[string][]byte
	installErr    error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		resolved:      make(map[string]string),
		configs:       make(map[string]*Config),
		migrationsRaw: make(map[string][]byte),
	}
}

func (r *fakeRegistry) ResolveVersion(ctx context.Context, name, requested string) (string, error) {
	atomic.AddInt32(&r.resolveCalls, 1)
	if v, ok := r.resolved[name+"@"+requested]; ok {
		return v, nil
	}
	return "", ErrNoMatchingVersion
}

func (r *fakeRegistry) ViewConfig(ctx context.Context, name, version string) (*Config, error) {
	atomic.AddInt32(&r.viewCalls, 1)
	return r.configs[name+"@"+version], nil
}

func (r *fakeRegistry) DownloadMigrationsFile(ctx context.Context, name, version, path string) ([]byte, error) {
	return r.migrationsRaw[name+"@"+version], nil
}

func (r *fakeRegistry) InstallFallback(ctx context.Context, name, version string) (*migrate.Document, error) {
	if r.installErr != nil {
		return nil, r.installErr
	}
	return &migrate.Document{Version: version}, nil
}

func TestFetchNoConfig(t *testing.T) {
	reg := newFakeRegistry()
	reg.resolved["pkg@2.0.0"] = "2.0.0"

	f := New(reg)
	doc, err := f.Fetch(context.Background(), "pkg", "2.0.0")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", doc.Version)
	require.Empty(t, doc.PackageGroup)
}

func TestFetchWithMigrationsFile(t *testing.T) {
	reg := newFakeRegistry()
	reg.resolved["pkg@2.0.0"] = "2.0.0"
	reg.configs["pkg@2.0.0"] = &Config{MigrationsFile: "migrations.json"}
	reg.migrationsRaw["pkg@2.0.0"] = []byte(`{
		"version": "2.0.0",
		"generators": {"m1": {"version": "1.5.0"}, "m2": {"version": "2.0.0"}}
	}`)

	f := New(reg)
	doc, err := f.Fetch(context.Background(), "pkg", "2.0.0")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Generators.Len())
	require.Equal(t, []string{"m1", "m2"}, doc.Generators.Keys())
}

func TestFetchMemoizesPerPlannerInstance(t *testing.T) {
	reg := newFakeRegistry()
	reg.resolved["pkg@^2.0.0"] = "2.3.4"
	reg.configs["pkg@2.3.4"] = &Config{}

	f := New(reg)
	ctx := context.Background()
	_, err := f.Fetch(ctx, "pkg", "^2.0.0")
	require.NoError(t, err)
	_, err = f.Fetch(ctx, "pkg", "^2.0.0")
	require.NoError(t, err)

	require.EqualValues(t, 1, reg.resolveCalls, "resolve should be called at most once per (name, requested)")
	require.EqualValues(t, 1, reg.viewCalls, "view should be called at most once per (name, resolved)")
}

func TestFetchConcurrentCallersJoinInFlightRequest(t *testing.T) {
	reg := newFakeRegistry()
	reg.resolved["pkg@latest"] = "3.0.0"
	reg.configs["pkg@3.0.0"] = &Config{}

	f := New(reg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(ctx, "pkg", "latest")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, reg.resolveCalls)
	require.EqualValues(t, 1, reg.viewCalls)
}

func TestFetchNoMatchingVersionDoesNotFallBack(t *testing.T) {
	reg := newFakeRegistry()
	f := New(reg)
	_, err := f.Fetch(context.Background(), "pkg", "^99.0.0")
	require.ErrorIs(t, err, ErrNoMatchingVersion)
}

type viewFailingRegistry struct {
	*fakeRegistry
}

func (r *viewFailingRegistry) ViewConfig(ctx context.Context, name, version string) (*Config, error) {
	return nil, errViewUnreachable
}

var errViewUnreachable = errViewUnreachableErr{}

type errViewUnreachableErr struct{}

func (errViewUnreachableErr) Error() string { return "registry view unreachable" }

func TestFetchFallsBackToInstallOnRegistryFailure(t *testing.T) {
	reg := &viewFailingRegistry{fakeRegistry: newFakeRegistry()}
	reg.resolved["pkg@2.0.0"] = "2.0.0"

	f := New(reg)
	doc, err := f.Fetch(context.Background(), "pkg", "2.0.0")
	require.NoError(t, err, "a registry view failure should fall back to install, not propagate")
	require.Equal(t, "2.0.0", doc.Version)
}
