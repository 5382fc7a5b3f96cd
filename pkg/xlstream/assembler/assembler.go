// Package assembler turns row source events into header and data records
// and hands them to an output writer.
package assembler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/writer"
	"go.uber.org/zap"
)

// DefaultCheckpointRows is the number of data rows between forced flushes.
const DefaultCheckpointRows = 50000

// ErrInvalidState indicates an event that the current state does not accept.
var ErrInvalidState = errors.New("assembler: invalid event for state")

// RowError is a failure confined to one row.
type RowError struct {
	// Row is the 0-based sheet row index.
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row+1, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// State is the assembler state.
type State int

const (
	// Idle waits for a row to start.
	Idle State = iota
	// RowOpen collects the cells of the current row.
	RowOpen
	// Done follows the end of the sheet or an abort.
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RowOpen:
		return "row-open"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures an Assembler.
type Config struct {
	// HeaderRow is the 0-based index of the header row. Earlier rows are
	// discarded.
	HeaderRow       int
	ContinueOnError bool
	// CheckpointRows is the number of data rows between forced flushes.
	CheckpointRows int
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Assembler is the row handler driven by a row source. It owns the buffer of
// the current row and is not safe for concurrent use.
type Assembler struct {
	cfg Config
	w   writer.Writer
	log *zap.Logger

	state   State
	row     int
	buf     map[int]string
	rowErr  error
	header  *models.Header
	rows    int64
	skipped int64

	closed       bool
	lastCheck    time.Time
	lastCheckRow int64
	started      time.Time
}

// New creates an Assembler writing into w. The writer must already be open.
func New(w writer.Writer, cfg Config) *Assembler {
	if cfg.CheckpointRows <= 0 {
		cfg.CheckpointRows = DefaultCheckpointRows
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	now := time.Now()
	return &Assembler{
		cfg:       cfg,
		w:         w,
		log:       cfg.Logger,
		buf:       make(map[int]string),
		lastCheck: now,
		started:   now,
	}
}

// OnRowStart clears the row buffer.
func (a *Assembler) OnRowStart(row int) {
	if a.state == Done {
		return
	}
	clear(a.buf)
	a.rowErr = nil
	a.row = row
	a.state = RowOpen
}

// OnCell adds a cell to the current row. A cell carrying an error faults the
// row; the failure is decided at OnRowEnd.
func (a *Assembler) OnCell(cell models.Cell) {
	if a.state != RowOpen {
		return
	}
	if cell.Err != nil {
		if a.rowErr == nil {
			a.rowErr = cell.Err
		}
		return
	}
	a.buf[cell.Col] = cell.Value
}

// OnRowEnd classifies the row and hands it to the writer.
func (a *Assembler) OnRowEnd(row int) error {
	if a.state != RowOpen || row != a.row {
		return fmt.Errorf("%w: row end %d in %s (open row %d)", ErrInvalidState, row, a.state, a.row)
	}
	a.state = Idle

	if row < a.cfg.HeaderRow {
		return nil
	}
	if a.rowErr != nil {
		return a.fail(row, a.rowErr)
	}
	if len(a.buf) == 0 {
		return nil
	}

	if row == a.cfg.HeaderRow {
		h := models.NewHeader(row, a.buf)
		a.header = &h
		if err := a.w.WriteHeader(h); err != nil {
			return a.fail(row, fmt.Errorf("write header: %w", err))
		}
		a.log.Info("header established", zap.Int("row", row), zap.Strings("names", h.Names()))
		return nil
	}

	if err := a.w.WriteRow(models.NewRow(row, a.buf)); err != nil {
		return a.fail(row, err)
	}
	a.rows++
	a.cfg.Metrics.RowWritten()

	if a.rows%int64(a.cfg.CheckpointRows) == 0 {
		return a.checkpoint()
	}
	return nil
}

// fail applies the continue-on-error policy to a row failure.
func (a *Assembler) fail(row int, err error) error {
	rerr := &RowError{Row: row, Err: err}
	if !a.cfg.ContinueOnError {
		return rerr
	}
	a.skipped++
	a.cfg.Metrics.RowSkipped()
	a.log.Warn("row skipped", zap.Int("row", row+1), zap.Error(err))
	return nil
}

func (a *Assembler) checkpoint() error {
	if err := a.w.Flush(); err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	a.cfg.Metrics.Checkpoint()

	now := time.Now()
	interval := now.Sub(a.lastCheck)
	delta := a.rows - a.lastCheckRow
	rate := 0.0
	if s := interval.Seconds(); s > 0 {
		rate = float64(delta) / s
	}
	a.log.Info("checkpoint",
		zap.Int64("rows", a.rows),
		zap.Duration("interval", interval),
		zap.Float64("rows_per_sec", rate))
	a.lastCheck = now
	a.lastCheckRow = a.rows
	return nil
}

// OnSheetEnd closes the writer. Later calls are no-ops.
func (a *Assembler) OnSheetEnd() error {
	if a.state == RowOpen {
		return fmt.Errorf("%w: sheet end with row %d open", ErrInvalidState, a.row)
	}
	if a.state == Done {
		return nil
	}
	a.state = Done
	if a.header == nil && a.rows == 0 {
		a.log.Warn("no header row found", zap.Int("header_row", a.cfg.HeaderRow))
	}
	a.log.Info("sheet assembled",
		zap.Int64("rows", a.rows),
		zap.Int64("skipped", a.skipped),
		zap.Duration("elapsed", time.Since(a.started)))
	return a.closeWriter()
}

// Abort closes the writer after a failure so the output stays well-formed.
// It is safe to call after OnSheetEnd.
func (a *Assembler) Abort() error {
	a.state = Done
	return a.closeWriter()
}

func (a *Assembler) closeWriter() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// State returns the current state.
func (a *Assembler) State() State { return a.state }

// Header returns the header, or nil before it was seen.
func (a *Assembler) Header() *models.Header { return a.header }

// Rows returns the number of data rows written.
func (a *Assembler) Rows() int64 { return a.rows }

// Skipped returns the number of rows skipped under continue-on-error.
func (a *Assembler) Skipped() int64 { return a.skipped }
