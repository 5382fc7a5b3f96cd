package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeBook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"id", "name"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{1, "apple"}))
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestRunNDJSON(t *testing.T) {
	input := writeBook(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.ndjson")
	metricsFile := filepath.Join(dir, "xlstream.prom")

	err := execute(t, input, "-f", "ndjson", "-o", out,
		"--temp-dir", filepath.Join(dir, "temp"),
		"--monitor-interval", "0s",
		"--log-format", "json",
		"--metrics-file", metricsFile)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1","name":"apple"}`+"\n", string(data))

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `xlstream_rows_written_total{format="ndjson"} 1`)
}

func TestRunReadsEnvironment(t *testing.T) {
	input := writeBook(t)
	dir := t.TempDir()
	t.Setenv("XLSTREAM_FORMAT", "csv")
	t.Setenv("XLSTREAM_TEMP_DIR", dir)
	t.Setenv("XLSTREAM_MONITOR_INTERVAL", "0s")

	require.NoError(t, execute(t, input))

	data, err := os.ReadFile(filepath.Join(dir, "book-chunk-1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,apple\n", string(data))
}

func TestRunReadsConfigFile(t *testing.T) {
	input := writeBook(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.json")
	cfg := filepath.Join(dir, "xlstream.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("format: json\noutput: "+out+"\nstrategy: event\nmonitor-interval: 0s\n"), 0o644))

	require.NoError(t, execute(t, input, "--config", cfg, "--temp-dir", filepath.Join(dir, "temp")))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","name":"apple"}]`+"\n", string(data))
}

func TestRunFailures(t *testing.T) {
	input := writeBook(t)

	assert.Error(t, execute(t))
	assert.Error(t, execute(t, input, "-f", "xml"))
	assert.Error(t, execute(t, input, "-f", "ndjson"), "output is required")
	assert.Error(t, execute(t, input, "-f", "csv", "--log-format", "xml"))
	assert.Error(t, execute(t, input, "-f", "csv", "--config", filepath.Join(t.TempDir(), "missing.yaml")))
}
