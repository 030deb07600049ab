package cliargs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetExplicitPackageAndVersion(t *testing.T) {
	target, err := ParseTarget("nx@16.0.0")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "16.0.0"}, target)
}

func TestParseTargetScopedPackageAndVersion(t *testing.T) {
	target, err := ParseTarget("@nrwl/workspace@14.0.0")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "@nrwl/workspace", Version: "14.0.0"}, target)
}

func TestParseTargetScopedPackageWithTag(t *testing.T) {
	target, err := ParseTarget("@nrwl/workspace@next")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "@nrwl/workspace", Version: "next"}, target)
}

func TestParseTargetBarePackageDefaultsToLatest(t *testing.T) {
	target, err := ParseTarget("nx")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "latest"}, target)
}

func TestParseTargetBareScopedPackageDefaultsToLatest(t *testing.T) {
	target, err := ParseTarget("@nrwl/workspace")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "@nrwl/workspace", Version: "latest"}, target)
}

func TestParseTargetBareTagDefaultsToToolPackage(t *testing.T) {
	target, err := ParseTarget("latest")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "latest"}, target)

	target, err = ParseTarget("next")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "next"}, target)
}

func TestParseTargetBareVersionBelowThresholdTargetsLegacyWorkspace(t *testing.T) {
	target, err := ParseTarget("13.10.0")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "@nrwl/workspace", Version: "13.10.0"}, target)
}

func TestParseTargetBareVersionAtOrAboveThresholdTargetsNx(t *testing.T) {
	target, err := ParseTarget("14.0.0-beta.0")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "14.0.0-beta.0"}, target)

	target, err = ParseTarget("16.0.0")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "16.0.0"}, target)
}

func TestParseTargetPartialBareVersion(t *testing.T) {
	target, err := ParseTarget("14")
	require.NoError(t, err)
	require.Equal(t, Target{Package: "nx", Version: "14"}, target)
}

func TestParseTargetEmptyIsError(t *testing.T) {
	_, err := ParseTarget("  ")
	require.Error(t, err)
}

func TestParseTargetMissingVersionAfterAtIsError(t *testing.T) {
	_, err := ParseTarget("nx@")
	require.Error(t, err)
}

func TestOverridesParsesCommaSeparatedPairs(t *testing.T) {
	overrides, err := Overrides("nx@1.0.0,@nrwl/workspace@1.0.0")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"nx": "1.0.0", "@nrwl/workspace": "1.0.0"}, overrides)
}

func TestOverridesEmptyStringIsNoOverrides(t *testing.T) {
	overrides, err := Overrides("")
	require.NoError(t, err)
	require.Nil(t, overrides)
}

func TestOverridesMalformedEntryIsError(t *testing.T) {
	_, err := Overrides("nx")
	require.Error(t, err)

	_, err = Overrides("nx@")
	require.Error(t, err)

	_, err = Overrides("@nx")
	require.Error(t, err)
}
