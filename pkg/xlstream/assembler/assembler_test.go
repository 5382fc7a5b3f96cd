package assembler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memWriter records everything it is given.
type memWriter struct {
	header  *models.Header
	rows    []models.Row
	flushes int
	closes  int
	failOn  int
}

func newMemWriter() *memWriter { return &memWriter{failOn: -1} }

func (m *memWriter) Open() error { return nil }

func (m *memWriter) WriteHeader(h models.Header) error {
	m.header = &h
	return nil
}

func (m *memWriter) WriteRow(r models.Row) error {
	if r.Num == m.failOn {
		return errors.New("disk full")
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *memWriter) Flush() error {
	m.flushes++
	return nil
}

func (m *memWriter) Close() error {
	m.closes++
	return nil
}

func (m *memWriter) RowsWritten() int64 { return int64(len(m.rows)) }

func emitRow(t *testing.T, a *Assembler, row int, cells ...models.Cell) error {
	t.Helper()
	a.OnRowStart(row)
	for _, c := range cells {
		a.OnCell(c)
	}
	return a.OnRowEnd(row)
}

func cell(col int, v string) models.Cell { return models.Cell{Col: col, Value: v} }

func TestHeaderAndDataClassification(t *testing.T) {
	w := newMemWriter()
	a := New(w, Config{HeaderRow: 1})

	require.NoError(t, emitRow(t, a, 0, cell(0, "title")))
	require.NoError(t, emitRow(t, a, 1, cell(0, "id"), cell(2, "qty")))
	require.NoError(t, emitRow(t, a, 2, cell(2, "10"), cell(0, "1")))
	require.NoError(t, emitRow(t, a, 3))
	require.NoError(t, emitRow(t, a, 4, cell(1, "x")))
	require.NoError(t, a.OnSheetEnd())
	require.NoError(t, a.OnSheetEnd())

	require.NotNil(t, w.header)
	assert.Equal(t, []string{"id", "qty"}, w.header.Names())
	require.Len(t, w.rows, 2)
	assert.Equal(t, []models.Cell{cell(0, "1"), cell(2, "10")}, w.rows[0].Cells)
	assert.Equal(t, 4, w.rows[1].Num)
	assert.Equal(t, int64(2), a.Rows(), "the cell-less row 3 is not counted")
	assert.Equal(t, 1, w.closes)
	assert.Equal(t, Done, a.State())
}

func TestColumnSetMatchesReportedCells(t *testing.T) {
	w := newMemWriter()
	a := New(w, Config{})
	require.NoError(t, emitRow(t, a, 0, cell(0, "h")))

	reported := []int{7, 0, 3, 12}
	var cells []models.Cell
	for _, col := range reported {
		cells = append(cells, cell(col, fmt.Sprint(col)))
	}
	require.NoError(t, emitRow(t, a, 1, cells...))
	require.NoError(t, a.OnSheetEnd())

	require.Len(t, w.rows, 1)
	var got []int
	for _, c := range w.rows[0].Cells {
		got = append(got, c.Col)
	}
	assert.Equal(t, []int{0, 3, 7, 12}, got)
}

func TestBufferIsNotShared(t *testing.T) {
	w := newMemWriter()
	a := New(w, Config{})
	require.NoError(t, emitRow(t, a, 0, cell(0, "h")))
	require.NoError(t, emitRow(t, a, 1, cell(0, "a"), cell(1, "b")))
	require.NoError(t, emitRow(t, a, 2, cell(0, "c")))

	assert.Len(t, w.rows[0].Cells, 2, "earlier record unaffected by later rows")
	assert.Equal(t, []string{"h"}, w.header.Names())
}

func TestContinueOnErrorSkipsMalformedRow(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := newMemWriter()
	mc := metrics.NewCollector("ndjson")
	a := New(w, Config{ContinueOnError: true, Logger: zap.New(core), Metrics: mc})

	require.NoError(t, emitRow(t, a, 0, cell(0, "id")))
	for row := 1; row <= 10; row++ {
		cells := []models.Cell{cell(0, fmt.Sprint(row))}
		if row == 5 {
			cells = append(cells, models.Cell{Col: -1, Err: errors.New("malformed cell reference")})
		}
		require.NoError(t, emitRow(t, a, row, cells...))
	}
	require.NoError(t, a.OnSheetEnd())

	assert.Equal(t, int64(9), a.Rows())
	assert.Equal(t, int64(9), w.RowsWritten())
	assert.Equal(t, int64(1), a.Skipped())
	assert.Equal(t, 1, logs.FilterMessage("row skipped").Len())
}

func TestMalformedRowIsFatalByDefault(t *testing.T) {
	w := newMemWriter()
	a := New(w, Config{})
	require.NoError(t, emitRow(t, a, 0, cell(0, "id")))

	err := emitRow(t, a, 1, models.Cell{Col: -1, Err: errors.New("bad ref")})
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 1, rowErr.Row)
	assert.Equal(t, int64(0), a.Rows())

	require.NoError(t, a.Abort())
	require.NoError(t, a.Abort())
	assert.Equal(t, 1, w.closes)
}

func TestWriterFailureFollowsPolicy(t *testing.T) {
	w := newMemWriter()
	w.failOn = 2
	a := New(w, Config{})
	require.NoError(t, emitRow(t, a, 0, cell(0, "id")))
	require.NoError(t, emitRow(t, a, 1, cell(0, "1")))
	err := emitRow(t, a, 2, cell(0, "2"))
	assert.ErrorContains(t, err, "disk full")

	w = newMemWriter()
	w.failOn = 2
	a = New(w, Config{ContinueOnError: true})
	require.NoError(t, emitRow(t, a, 0, cell(0, "id")))
	for row := 1; row <= 3; row++ {
		require.NoError(t, emitRow(t, a, row, cell(0, "v")))
	}
	assert.Equal(t, int64(2), a.Rows())
	assert.Equal(t, int64(1), a.Skipped())
}

func TestCheckpointFlushes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := newMemWriter()
	a := New(w, Config{CheckpointRows: 3, Logger: zap.New(core)})
	require.NoError(t, emitRow(t, a, 0, cell(0, "id")))
	for row := 1; row <= 7; row++ {
		require.NoError(t, emitRow(t, a, row, cell(0, "v")))
	}
	assert.Equal(t, 2, w.flushes)
	assert.Equal(t, 2, logs.FilterMessage("checkpoint").Len())
}

func TestInvalidEventOrder(t *testing.T) {
	a := New(newMemWriter(), Config{})
	assert.ErrorIs(t, a.OnRowEnd(0), ErrInvalidState)

	a.OnRowStart(0)
	assert.ErrorIs(t, a.OnRowEnd(1), ErrInvalidState)

	a.OnRowStart(2)
	assert.ErrorIs(t, a.OnSheetEnd(), ErrInvalidState)
}
