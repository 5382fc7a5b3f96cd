package writer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
)

// CSVWriter writes rows into chunk files of at most BatchSize data rows.
// Every chunk starts with the header line. Fields are placed at their
// column index; missing columns are written as empty fields.
type CSVWriter struct {
	cfg Config
	log *zap.Logger

	header *models.Header
	chunk  int
	file   *os.File
	buf    *bufio.Writer
	w      *csv.Writer

	chunkRows int
	rows      int64
	chunks    []string
	opened    bool
	closed    bool
}

// NewCSV creates a CSV writer.
func NewCSV(cfg Config) *CSVWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CSVWriter{cfg: cfg, log: cfg.Logger}
}

// ChunkPath returns the path of chunk n.
func (c *CSVWriter) ChunkPath(n int) string {
	return filepath.Join(c.cfg.TempDir, fmt.Sprintf("%s%s%d.csv", c.cfg.Stem, chunkFileSeparator, n))
}

// Chunks returns the paths of the chunks written so far.
func (c *CSVWriter) Chunks() []string {
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Open prepares the temp directory. Chunk files are created when rows
// arrive.
func (c *CSVWriter) Open() error {
	if c.opened {
		return nil
	}
	if c.cfg.Stem == "" {
		return errors.New("csv writer: chunk stem is empty")
	}
	if err := os.MkdirAll(c.cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir %s: %w", c.cfg.TempDir, err)
	}
	first := c.ChunkPath(1)
	if !c.cfg.Overwrite {
		if _, err := os.Stat(first); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, first)
		}
	}
	c.opened = true
	c.log.Debug("csv writer opened", zap.String("dir", c.cfg.TempDir), zap.Int("batch_size", c.cfg.BatchSize))
	return nil
}

// WriteHeader records the header. It is written at the top of every chunk
// opened afterwards.
func (c *CSVWriter) WriteHeader(h models.Header) error {
	if !c.opened || c.closed {
		return ErrNotOpen
	}
	c.header = &h
	return nil
}

// WriteRow writes one data row, starting a new chunk when the current one is
// full.
func (c *CSVWriter) WriteRow(r models.Row) error {
	if !c.opened || c.closed {
		return ErrNotOpen
	}
	if c.w == nil || c.chunkRows >= c.cfg.BatchSize {
		if err := c.nextChunk(); err != nil {
			return err
		}
	}
	if err := c.w.Write(c.record(r.Cells, r.MaxCol())); err != nil {
		return fmt.Errorf("write row %d: %w", r.Num, err)
	}
	c.chunkRows++
	c.rows++
	return nil
}

func (c *CSVWriter) width(maxCol int) int {
	w := maxCol + 1
	if c.header != nil && c.header.MaxCol()+1 > w {
		w = c.header.MaxCol() + 1
	}
	return w
}

func (c *CSVWriter) record(cells []models.Cell, maxCol int) []string {
	fields := make([]string, c.width(maxCol))
	for _, cell := range cells {
		fields[cell.Col] = cell.Value
	}
	return fields
}

func (c *CSVWriter) nextChunk() error {
	if err := c.closeChunk(); err != nil {
		return err
	}

	path := c.ChunkPath(c.chunk + 1)
	f, err := createFile(path, c.cfg.Overwrite)
	if err != nil {
		return err
	}
	c.chunk++
	c.file = f
	c.buf = bufio.NewWriterSize(f, DefaultBufferSize)
	c.w = csv.NewWriter(c.buf)
	c.chunkRows = 0
	c.chunks = append(c.chunks, path)

	if c.header != nil {
		if err := c.w.Write(c.record(c.header.Cells(), c.header.MaxCol())); err != nil {
			return fmt.Errorf("write header to %s: %w", path, err)
		}
	}
	c.log.Debug("csv chunk opened", zap.String("path", path), zap.Int("chunk", c.chunk))
	return nil
}

func (c *CSVWriter) closeChunk() error {
	if c.file == nil {
		return nil
	}
	err := c.flush()
	if cerr := c.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	c.log.Info("csv chunk closed",
		zap.String("path", c.file.Name()),
		zap.Int("rows", c.chunkRows))
	c.file, c.buf, c.w = nil, nil, nil
	return err
}

func (c *CSVWriter) flush() error {
	if c.w == nil {
		return nil
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Flush writes buffered rows of the current chunk to disk.
func (c *CSVWriter) Flush() error {
	return c.flush()
}

// Close closes the current chunk. A header-only sheet still produces one
// chunk holding the header line.
func (c *CSVWriter) Close() error {
	if c.closed || !c.opened {
		c.closed = true
		return nil
	}
	var err error
	if c.chunk == 0 && c.header != nil {
		err = c.nextChunk()
	}
	c.closed = true
	return errors.Join(err, c.closeChunk())
}

// RowsWritten returns the number of data rows written across all chunks.
func (c *CSVWriter) RowsWritten() int64 { return c.rows }
