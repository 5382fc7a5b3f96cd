// Package models defines the row and sheet data structures passed between
// the conversion stages.
package models

import "sort"

// Cell is a single non-empty cell reported by a row source.
type Cell struct {
	// Col is the 0-based column index derived from the cell coordinate.
	Col int `json:"c"`
	// Value is the cell text.
	Value string `json:"v"`
	// Err is set when the cell coordinate could not be resolved.
	Err error `json:"-"`
}

// Row represents one data row, ordered by column index.
type Row struct {
	// Num is the 0-based row index in the sheet.
	Num int `json:"r"`
	// Cells holds the non-empty cells sorted by column, one per column.
	Cells []Cell `json:"cells"`
}

// NewRow builds a Row from a column → text mapping. The map is copied.
func NewRow(num int, values map[int]string) Row {
	cols := make([]int, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	cells := make([]Cell, len(cols))
	for i, col := range cols {
		cells[i] = Cell{Col: col, Value: values[col]}
	}
	return Row{Num: num, Cells: cells}
}

// MaxCol returns the highest column index in the row, or -1 when empty.
func (r Row) MaxCol() int {
	if len(r.Cells) == 0 {
		return -1
	}
	return r.Cells[len(r.Cells)-1].Col
}

// Header is the row whose index equals the configured header row. It is
// never modified after construction.
type Header struct {
	row   Row
	names map[int]string
}

// NewHeader builds a Header from a column → name mapping. The map is copied.
func NewHeader(num int, names map[int]string) Header {
	h := Header{row: NewRow(num, names), names: make(map[int]string, len(names))}
	for col, name := range names {
		h.names[col] = name
	}
	return h
}

// Num returns the 0-based row index the header was read from.
func (h Header) Num() int { return h.row.Num }

// Cells returns a copy of the header cells in column order.
func (h Header) Cells() []Cell {
	out := make([]Cell, len(h.row.Cells))
	copy(out, h.row.Cells)
	return out
}

// Names returns the header names in column order.
func (h Header) Names() []string {
	out := make([]string, len(h.row.Cells))
	for i, c := range h.row.Cells {
		out[i] = c.Value
	}
	return out
}

// Name returns the header name for a column and whether one is defined.
func (h Header) Name(col int) (string, bool) {
	name, ok := h.names[col]
	return name, ok
}

// MaxCol returns the highest named column, or -1 for an empty header.
func (h Header) MaxCol() int { return h.row.MaxCol() }

// Len returns the number of named columns.
func (h Header) Len() int { return len(h.row.Cells) }
