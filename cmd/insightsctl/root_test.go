package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("INSIGHTS_DATABASE_DRIVER", "memory")
	t.Setenv("INSIGHTS_REDIS_DISABLED", "true")
	t.Setenv("INSIGHTS_TRACKER_DRY_RUN", "")

	jsonOutput, verbose, configFile = false, false, ""
	prioritiesLimit, prioritiesActionable, openIssuesDryRun = 0, false, false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), err
}

func TestPriorities_MemoryDriver(t *testing.T) {
	out, err := execute(t, "priorities", "--actionable")
	require.NoError(t, err)
	assert.Contains(t, out, "LESSON")
	assert.Contains(t, out, "0 actionable")
}

func TestOpenIssues_DryRun(t *testing.T) {
	out, err := execute(t, "open-issues", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 candidates, 0 opened")
}

func TestFlags_JSON(t *testing.T) {
	out, err := execute(t, "flags", "--json")
	require.NoError(t, err)

	var flags []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &flags))
	assert.Len(t, flags, 4)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	_, err := execute(t, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
