package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigValidate_RequiresConfigFile(t *testing.T) {
	t.Setenv(configFileEnv, "")

	_, err := runRoot(t, "config", "validate")
	require.ErrorIs(t, err, errNoConfig)
}

func TestConfigValidate_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := runRoot(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestConfigValidate_FallsBackToEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.yaml")
	t.Setenv(configFileEnv, path)

	_, err := runRoot(t, "config", "validate")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNoConfig)
	assert.Contains(t, err.Error(), "from-env.yaml")
}
