package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunFileDryRun(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESULTS_DIR", dir)
	t.Setenv("TENANTS_FILE", "")
	t.Setenv("CONTOSO_PROVIDER", "microsoft")
	t.Setenv("CONTOSO_DRY_RUN", "false")

	csvPath := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("email,first_name\nalice@corp.com,Alice\nbob@corp.com,Bob\n"), 0o600))

	out, err := execute(t, "run-file", "--company", "contoso", "--file", csvPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would process: 2")
	assert.Contains(t, out, "dry_run")
}

func TestCheckConfig(t *testing.T) {
	t.Setenv("TENANTS_FILE", "")
	t.Setenv("ACME_PROVIDER", "google")
	t.Setenv("ACME_DOMAIN", "acme.com")
	t.Setenv("ACME_ADMIN_EMAIL", "admin@acme.com")
	t.Setenv("ACME_SA_JSON", `{"client_email":"sa@acme.iam.gserviceaccount.com"}`)

	out, err := execute(t, "check-config", "--company", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: google")
	assert.Contains(t, out, "mode:     dry_run")
}

func TestMissingFlags(t *testing.T) {
	_, err := execute(t, "run-file", "--file", "users.csv")
	assert.EqualError(t, err, "--company is required")

	_, err = execute(t, "check-config", "--company", "nobody")
	assert.Error(t, err)
}
