package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "releases.csv")
	data := "title,link,tags\n" +
		"CPI,https://example.com/cpi,inflation\n" +
		"Broken,not-a-url,\n" +
		"PPI,https://example.com/ppi,\"inflation,producers\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportDryRun(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "import", "--dry-run", writeCSV(t))
	require.NoError(t, err)
	require.Contains(t, out, "2 rows accepted, 1 skipped")
	require.Contains(t, out, "row 3:")
}

func TestImportCreatesSource(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "import", "--name", "Releases", "--interval", "one_day", writeCSV(t))
	require.NoError(t, err)
	require.Contains(t, out, "created source Releases")
	require.Contains(t, out, "2 rows, 1 skipped")
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "sync")
	require.Error(t, err)
	_, err = execute(t, "import")
	require.Error(t, err)
	_, err = execute(t, "serve", "extra")
	require.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	require.ErrorContains(t, err, "load config")
}
