package sst

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"github.com/xuri/excelize/v2"
)

func writeTable(t *testing.T, table []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strings.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(container.SharedStringsPart)
	require.NoError(t, err)
	_, err = w.Write(table)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func openArchive(t *testing.T, path string, limits container.Limits) *container.Archive {
	t.Helper()
	a, err := container.Open(path, limits, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestResolverRescansAfterEviction(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i, w := range words {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue("Sheet1", cell, w))
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))

	a := openArchive(t, path, container.DefaultLimits())
	mc := metrics.NewCollector("csv")
	r, err := New(a, 2, WithMetrics(mc))
	require.NoError(t, err)

	for i, w := range words {
		got, err := r.String(i)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
	assert.Equal(t, len(words), r.Count())
	assert.Equal(t, 2, r.Cached())

	// index 0 was evicted long ago
	got, err := r.String(0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)
	assert.Equal(t, int64(6), r.Misses())

	got, err = r.String(0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)
	assert.Equal(t, int64(1), r.Hits())
	assert.False(t, r.Fallback())
}

func TestResolverRichTextAndPhonetic(t *testing.T) {
	table := []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="4" uniqueCount="3">
<si><t>plain</t></si>
<si><r><rPr><b/></rPr><t>bold </t></r><r><t xml:space="preserve">and normal</t></r></si>
<si><t>東京</t><rPh sb="0" eb="2"><t>トウキョウ</t></rPh></si>
</sst>`)
	a := openArchive(t, writeTable(t, table), container.DefaultLimits())
	r, err := New(a, 10)
	require.NoError(t, err)

	require.NoError(t, r.Initialize())
	assert.Equal(t, 3, r.Count(), "uniqueCount wins over count")

	tests := []struct {
		index    int
		expected string
	}{
		{0, "plain"},
		{1, "bold and normal"},
		{2, "東京"},
	}
	for _, tt := range tests {
		got, err := r.String(tt.index)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}

func TestResolverIndexOutOfRange(t *testing.T) {
	table := []byte(`<sst count="1"><si><t>only</t></si></sst>`)
	a := openArchive(t, writeTable(t, table), container.DefaultLimits())
	r, err := New(a, 10)
	require.NoError(t, err)

	_, err = r.String(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = r.String(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestResolverUndeclaredCount(t *testing.T) {
	table := []byte(`<sst><si><t>a</t></si><si><t>b</t></si></sst>`)
	a := openArchive(t, writeTable(t, table), container.DefaultLimits())
	r, err := New(a, 10)
	require.NoError(t, err)

	got, err := r.String(1)
	require.NoError(t, err)
	assert.Equal(t, "b", got)
	assert.Equal(t, -1, r.Count())

	_, err = r.String(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestResolverTableMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("xl/workbook.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<workbook/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	a := openArchive(t, path, container.DefaultLimits())
	r, err := New(a, 10)
	require.NoError(t, err)

	_, err = r.String(0)
	assert.ErrorIs(t, err, ErrStringTableMissing)
}

func TestResolverFallsBackOnSuspectedBomb(t *testing.T) {
	var buf bytes.Buffer
	const n = 6000
	fmt.Fprintf(&buf, `<sst count="%d" uniqueCount="%d">`, n, n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "<si><t>item-%d</t></si>", i)
	}
	buf.WriteString("</sst>")

	limits := container.DefaultLimits()
	limits.MinInflateRatio = 0.9
	a := openArchive(t, writeTable(t, buf.Bytes()), limits)

	mc := metrics.NewCollector("json")
	r, err := New(a, 100, WithMetrics(mc))
	require.NoError(t, err)

	got, err := r.String(4321)
	require.NoError(t, err)
	assert.Equal(t, "item-4321", got)
	assert.True(t, r.Fallback())
	assert.Equal(t, n, r.Count())
}
