package writer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
)

const prettyIndent = "  "

// JSONWriter writes all rows into one top-level JSON array. The opening
// bracket is written by Open and the closing bracket only by Close.
type JSONWriter struct {
	cfg Config
	log *zap.Logger

	header  *models.Header
	file    *os.File
	buf     *bufio.Writer
	scratch bytes.Buffer
	indent  bytes.Buffer

	rows    int64
	written int64
	pending int64
	opened  bool
	closed  bool
}

// NewJSON creates a JSON array writer.
func NewJSON(cfg Config) *JSONWriter {
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = DefaultFlushBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &JSONWriter{cfg: cfg, log: cfg.Logger}
}

// Open creates the destination and writes the opening bracket.
func (j *JSONWriter) Open() error {
	if j.opened {
		return nil
	}
	f, err := createFile(j.cfg.Output, j.cfg.Overwrite)
	if err != nil {
		return err
	}
	j.file = f
	j.buf = bufio.NewWriterSize(f, DefaultBufferSize)
	j.opened = true
	return j.write([]byte("["))
}

// WriteHeader sets the names used as object keys from now on.
func (j *JSONWriter) WriteHeader(h models.Header) error {
	if !j.opened || j.closed {
		return ErrNotOpen
	}
	j.header = &h
	return nil
}

// WriteRow appends one object to the array.
func (j *JSONWriter) WriteRow(r models.Row) error {
	if !j.opened || j.closed {
		return ErrNotOpen
	}
	j.scratch.Reset()
	if j.rows > 0 {
		j.scratch.WriteByte(',')
	}
	if j.cfg.PrettyPrint {
		j.scratch.WriteString("\n" + prettyIndent)
	}
	if err := j.encode(r); err != nil {
		return err
	}
	if err := j.write(j.scratch.Bytes()); err != nil {
		return fmt.Errorf("write row %d: %w", r.Num, err)
	}
	j.rows++

	if j.pending >= j.cfg.FlushBytes {
		return j.Flush()
	}
	return nil
}

func (j *JSONWriter) encode(r models.Row) error {
	if !j.cfg.PrettyPrint {
		return encodeObject(&j.scratch, j.header, r)
	}
	var obj bytes.Buffer
	if err := encodeObject(&obj, j.header, r); err != nil {
		return err
	}
	j.indent.Reset()
	if err := json.Indent(&j.indent, obj.Bytes(), prettyIndent, prettyIndent); err != nil {
		return fmt.Errorf("indent row %d: %w", r.Num, err)
	}
	j.scratch.Write(j.indent.Bytes())
	return nil
}

func (j *JSONWriter) write(p []byte) error {
	n, err := j.buf.Write(p)
	j.written += int64(n)
	j.pending += int64(n)
	return err
}

// Flush writes buffered output to disk.
func (j *JSONWriter) Flush() error {
	if !j.opened || j.closed {
		return nil
	}
	if err := j.buf.Flush(); err != nil {
		return fmt.Errorf("flush json: %w", err)
	}
	j.log.Debug("json flushed", zap.Int64("bytes", j.pending), zap.Int64("total_bytes", j.written))
	j.pending = 0
	return nil
}

// Close writes the closing bracket and closes the file. Closing twice is a
// no-op.
func (j *JSONWriter) Close() error {
	if j.closed || !j.opened {
		j.closed = true
		return nil
	}
	tail := "]\n"
	if j.cfg.PrettyPrint && j.rows > 0 {
		tail = "\n]\n"
	}
	err := j.write([]byte(tail))
	if ferr := j.buf.Flush(); ferr != nil {
		err = errors.Join(err, fmt.Errorf("flush json: %w", ferr))
	}
	j.closed = true
	if cerr := j.file.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	j.log.Info("json output closed",
		zap.String("path", j.cfg.Output),
		zap.Int64("rows", j.rows),
		zap.Int64("bytes", j.written))
	return err
}

// RowsWritten returns the number of objects written.
func (j *JSONWriter) RowsWritten() int64 { return j.rows }
