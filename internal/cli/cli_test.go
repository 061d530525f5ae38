package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopnow/streamwh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRootInvalidFormat(t *testing.T) {
	_, err := run(t, "", "--format", "yaml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "streamwh version dev (commit: unknown)\n", out)

	out, err = run(t, "", "--format", "json", "version")
	require.NoError(t, err)
	var resp struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dev", resp.Data["version"])
}

func TestLoadConfig_FlagsOverrideEnvOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
data_dir: /from/file
log:
  level: warn
http:
  addr: ":7000"
`)
	t.Setenv("STREAMWH_LOG_LEVEL", "error")
	t.Setenv("STREAMWH_DATA_DIR", "/from/env")

	cfg, err := loadConfig(&RootOptions{ConfigPath: path, DataDir: "/from/flag"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)

	cfg, err = loadConfig(&RootOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "integrity")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEnvFileIsLoaded(t *testing.T) {
	const key = "STREAMWH_CLI_TEST_POLICY"
	t.Cleanup(func() { os.Unsetenv(key) })
	path := writeFile(t, t.TempDir(), "test.env", key+"=enabled\n")

	_, err := run(t, "", "--env-file", path, "version")
	require.NoError(t, err)
	assert.Equal(t, "enabled", os.Getenv(key))

	_, err = run(t, "", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestThenHistory(t *testing.T) {
	dir := t.TempDir()
	events := writeFile(t, dir, "vendors.jsonl", strings.Join([]string{
		`{"vendor_id":"V-100","vendor_name":"Acme","commission_rate":0.1,"timestamp":"2026-01-01T00:00:00Z"}`,
		``,
		`{"vendor_id":"V-100","vendor_name":"Acme Ltd","commission_rate":0.1,"timestamp":"2026-02-01T00:00:00Z"}`,
		`{"vendor_name":"no id"}`,
	}, "\n"))
	global := []string{"--data-dir", dir, "--log-level", "error"}

	out, err := run(t, "", append(global, "ingest", "--stream", "vendors", events)...)
	require.NoError(t, err)
	assert.Equal(t, "vendors: 3 events\n  stored       2\n  quarantined  1\n  dropped      0\n  failed       0\n", out)

	out, err = run(t, "", append(global, "history", "vendor", "V-100")...)
	require.NoError(t, err)
	assert.Contains(t, out, "vendor V-100 (2 versions)")
	assert.Contains(t, out, "2026-01-01T00:00:00Z .. 2026-02-01T00:00:00Z")
	assert.Contains(t, out, `vendor_name="Acme Ltd"`)
	assert.Contains(t, out, ".. current")

	out, err = run(t, "", append(global, "--format", "json", "history", "vendor", "V-100")...)
	require.NoError(t, err)
	var resp struct {
		Data []*types.DimensionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.True(t, resp.Data[1].IsCurrent)

	_, err = run(t, "", append(global, "history", "vendor", "V-404")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = run(t, "", append(global, "history", "customer", "V-100")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngest_FromStdinVerbose(t *testing.T) {
	dir := t.TempDir()
	stdin := `{"session_id":"s-1","url":"https://test.com/"}` + "\n" + `{"user_id":"u-1"}` + "\n"

	out, err := run(t, stdin, "--data-dir", dir, "--log-level", "error", "--format", "json",
		"ingest", "--stream", "clickstream", "--verbose")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Summary struct {
				Total       int `json:"total"`
				Stored      int `json:"stored"`
				Quarantined int `json:"quarantined"`
			} `json:"summary"`
			Outcomes []map[string]interface{} `json:"outcomes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Summary.Total)
	assert.Equal(t, 1, resp.Data.Summary.Stored)
	assert.Equal(t, 1, resp.Data.Summary.Quarantined)
	require.Len(t, resp.Data.Outcomes, 2)
	assert.Equal(t, "quarantined", resp.Data.Outcomes[1]["disposition"])
}

func TestIngest_RequiresStream(t *testing.T) {
	_, err := run(t, "", "--data-dir", t.TempDir(), "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestQuarantineScan(t *testing.T) {
	dir := t.TempDir()
	global := []string{"--data-dir", dir, "--log-level", "error"}
	stdin := `{"order_id":null,"test_marker":"M-1"}` + "\n" + `{"order_id":"","test_marker":"M-2"}` + "\n"

	_, err := run(t, stdin, append(global, "ingest", "--stream", "orders")...)
	require.NoError(t, err)

	out, err := run(t, "", append(global, "quarantine", "scan", "--stream", "orders", "--marker", "M-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "marker=M-1")
	assert.Contains(t, out, `payload: {"order_id":null,"test_marker":"M-1"}`)

	out, err = run(t, "", append(global, "quarantine", "scan", "--stream", "orders")...)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "reason:"))

	_, err = run(t, "", append(global, "quarantine", "scan", "--stream", "orders", "--marker", "M-9")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestIntegrity(t *testing.T) {
	dir := t.TempDir()
	global := []string{"--data-dir", dir, "--log-level", "error"}

	out, err := run(t, "", append(global, "integrity", "--strict")...)
	require.NoError(t, err)
	assert.Equal(t, "no integrity gaps\n", out)

	order := `{"order_id":"o-1","timestamp":1767225600,"items":[{"product_id":"p-1","vendor_id":"GHOST","quantity":1,"unit_price":5}]}`
	_, err = run(t, order+"\n", append(global, "ingest", "--stream", "orders")...)
	require.NoError(t, err)

	out, err = run(t, "", append(global, "--format", "json", "integrity", "--strict")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data types.IntegrityReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.UnknownVendorProducts, 1)
	assert.Equal(t, "p-1", resp.Data.UnknownVendorProducts[0].ProductID)
	require.Len(t, resp.Data.OrphanFacts, 1)
	assert.Equal(t, "GHOST", resp.Data.OrphanFacts[0].BusinessID)

	out, err = run(t, "", append(global, "integrity")...)
	require.NoError(t, err)
	assert.Contains(t, out, "product p-1 -> vendor GHOST")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(os.ErrNotExist))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", os.ErrNotExist)))
}
