package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.yaml")
	content := fmt.Sprintf(`logging:
  development: false
  level: error
storage:
  artifact_dir: %[1]s/pdfs
  results_file: %[1]s/results.json
  ledger_file: %[1]s/failed.json
  checkpoint_file: %[1]s/checkpoint.json
  totals_file: %[1]s/totals.json
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusPrintsStoredState(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint.json"),
		[]byte(`{"last_completed_index": 12, "timestamp": "2024-01-01T00:00:00Z"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "totals.json"), []byte(`{"total_reports": 40}`), 0o600))

	out, err := execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)

	var got struct {
		Checkpoint struct {
			LastCompletedIndex int `json:"last_completed_index"`
		} `json:"checkpoint"`
		Total    *int `json:"total_reports"`
		Failures int  `json:"failures"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 12, got.Checkpoint.LastCompletedIndex)
	require.NotNil(t, got.Total)
	assert.Equal(t, 40, *got.Total)
	assert.Zero(t, got.Failures)
}

func TestStatusFailures(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failed.json"),
		[]byte(`[{"identifier":"2019.2104.5","error":"download timeout"}]`), 0o600))

	out, err := execute(t, "--config", cfgPath, "status", "--failures")
	require.NoError(t, err)
	assert.Contains(t, out, `"download timeout"`)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	assert.ErrorContains(t, err, "load config")
}

func TestRunRejectsInvalidSourceFlag(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "run", "--source", "ftp")
	assert.ErrorContains(t, err, "source.kind")
}
