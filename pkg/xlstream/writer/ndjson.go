package writer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
)

// NDJSONWriter writes one JSON object per line and flushes after every row,
// so an interruption loses at most the row being written.
type NDJSONWriter struct {
	cfg Config
	log *zap.Logger

	header  *models.Header
	file    *os.File
	buf     *bufio.Writer
	scratch bytes.Buffer

	rows   int64
	opened bool
	closed bool
}

// NewNDJSON creates an NDJSON writer.
func NewNDJSON(cfg Config) *NDJSONWriter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &NDJSONWriter{cfg: cfg, log: cfg.Logger}
}

// Open creates the destination.
func (n *NDJSONWriter) Open() error {
	if n.opened {
		return nil
	}
	f, err := createFile(n.cfg.Output, n.cfg.Overwrite)
	if err != nil {
		return err
	}
	n.file = f
	n.buf = bufio.NewWriterSize(f, ndjsonBufferSize)
	n.opened = true
	return nil
}

// WriteHeader sets the names used as object keys from now on.
func (n *NDJSONWriter) WriteHeader(h models.Header) error {
	if !n.opened || n.closed {
		return ErrNotOpen
	}
	n.header = &h
	return nil
}

// WriteRow writes one line and flushes it.
func (n *NDJSONWriter) WriteRow(r models.Row) error {
	if !n.opened || n.closed {
		return ErrNotOpen
	}
	n.scratch.Reset()
	if err := encodeObject(&n.scratch, n.header, r); err != nil {
		return err
	}
	n.scratch.WriteByte('\n')
	if _, err := n.buf.Write(n.scratch.Bytes()); err != nil {
		return fmt.Errorf("write row %d: %w", r.Num, err)
	}
	n.rows++
	return n.Flush()
}

// Flush writes buffered output to disk.
func (n *NDJSONWriter) Flush() error {
	if !n.opened || n.closed {
		return nil
	}
	if err := n.buf.Flush(); err != nil {
		return fmt.Errorf("flush ndjson: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (n *NDJSONWriter) Close() error {
	if n.closed || !n.opened {
		n.closed = true
		return nil
	}
	err := n.Flush()
	n.closed = true
	if cerr := n.file.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	n.log.Info("ndjson output closed", zap.String("path", n.cfg.Output), zap.Int64("rows", n.rows))
	return err
}

// RowsWritten returns the number of lines written.
func (n *NDJSONWriter) RowsWritten() int64 { return n.rows }
