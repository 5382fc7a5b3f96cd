// Package writer streams assembled rows into CSV chunks, a JSON array or
// newline-delimited JSON.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
)

// ErrDestinationExists indicates the output file exists and overwrite is off.
var ErrDestinationExists = errors.New("destination already exists")

// ErrNotOpen indicates a write before Open or after Close.
var ErrNotOpen = errors.New("writer is not open")

// Format is an output format.
type Format string

const (
	// FormatCSV writes chunked CSV files into the temp directory.
	FormatCSV Format = "csv"
	// FormatJSON writes a single JSON array.
	FormatJSON Format = "json"
	// FormatNDJSON writes one JSON object per line.
	FormatNDJSON Format = "ndjson"
)

// ParseFormat parses s case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want csv, json or ndjson)", s)
	}
}

// Defaults.
const (
	DefaultBatchSize   = 50000
	DefaultBufferSize  = 128 << 10
	DefaultFlushBytes  = 5 << 20
	ndjsonBufferSize   = 64 << 10
	chunkFileSeparator = "-chunk-"
)

// Config configures a Writer.
type Config struct {
	Format Format
	// Output is the destination file of the json and ndjson writers.
	Output string
	// TempDir holds the csv chunks.
	TempDir string
	// Stem names the csv chunks: <Stem>-chunk-<n>.csv.
	Stem string
	// BatchSize is the maximum number of data rows per csv chunk.
	BatchSize int
	Overwrite bool
	// PrettyPrint indents json output.
	PrettyPrint bool
	// FlushBytes is the number of bytes after which the json writer flushes.
	FlushBytes int64
	Logger     *zap.Logger
}

// Writer is the sink of the row assembler. Open and Close are idempotent;
// Close leaves the output well-formed even after a failed write.
type Writer interface {
	Open() error
	WriteHeader(h models.Header) error
	WriteRow(r models.Row) error
	Flush() error
	Close() error
	RowsWritten() int64
}

// New creates the Writer for cfg.Format.
func New(cfg Config) (Writer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch cfg.Format {
	case FormatCSV:
		return NewCSV(cfg), nil
	case FormatJSON:
		return NewJSON(cfg), nil
	case FormatNDJSON:
		return NewNDJSON(cfg), nil
	default:
		return nil, fmt.Errorf("unknown format %q", cfg.Format)
	}
}

// createFile creates path and its parent directories. Without overwrite an
// existing file is refused.
func createFile(path string, overwrite bool) (*os.File, error) {
	if path == "" {
		return nil, errors.New("output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrDestinationExists, path)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// fieldName returns the JSON key of col: the header name, or the decimal
// column index for unnamed columns.
func fieldName(h *models.Header, col int) string {
	if h != nil {
		if name, ok := h.Name(col); ok && name != "" {
			return name
		}
	}
	return strconv.Itoa(col)
}

// encodeObject appends one JSON object with keys in ascending column order.
func encodeObject(buf *bytes.Buffer, h *models.Header, r models.Row) error {
	buf.WriteByte('{')
	for i, c := range r.Cells {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.MarshalNoEscape(fieldName(h, c.Col))
		if err != nil {
			return fmt.Errorf("encode key of column %d: %w", c.Col, err)
		}
		val, err := json.MarshalNoEscape(c.Value)
		if err != nil {
			return fmt.Errorf("encode value of column %d: %w", c.Col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return nil
}
