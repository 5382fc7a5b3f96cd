// Package xlstream converts one sheet of a large XLSX workbook into CSV
// chunks, a JSON array or NDJSON without loading the workbook into memory.
package xlstream

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/monitor"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/parser"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/sst"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/writer"
	"go.uber.org/zap"
)

// Request describes one conversion. It is validated once and then only read.
type Request struct {
	// Input is the workbook path.
	Input string `mapstructure:"input"`
	// Output is the destination file for json and ndjson.
	Output string `mapstructure:"output"`
	// Format is csv, json or ndjson.
	Format string `mapstructure:"format"`

	// SheetName selects a sheet by case-insensitive name.
	SheetName string `mapstructure:"sheet-name"`
	// SheetIndex selects a sheet by 0-based position; negative means unset.
	// It wins over SheetName.
	SheetIndex int `mapstructure:"sheet-index"`
	// HeaderRow is the 0-based index of the header row.
	HeaderRow int `mapstructure:"header-row"`

	// BatchSize is the maximum number of data rows per csv chunk.
	BatchSize       int  `mapstructure:"batch-size"`
	ContinueOnError bool `mapstructure:"continue-on-error"`
	// TempDir receives csv chunks and spilled worksheet XML.
	TempDir     string `mapstructure:"temp-dir"`
	Overwrite   bool   `mapstructure:"overwrite"`
	PrettyPrint bool   `mapstructure:"pretty"`

	// Strategy is auto, streaming or event.
	Strategy string `mapstructure:"strategy"`
	// MemoryThresholdMB is the worksheet size above which the streaming
	// source spills to TempDir.
	MemoryThresholdMB int `mapstructure:"mem-threshold"`
	// MinInflateRatio is the minimum compressed/decompressed ratio of a part;
	// zero disables the check.
	MinInflateRatio float64 `mapstructure:"min-inflate-ratio"`
	// MaxEntrySize caps the decompressed size of any part.
	MaxEntrySize int64 `mapstructure:"max-entry-size"`
	// CacheSize bounds the shared string cache.
	CacheSize int `mapstructure:"sst-cache-size"`
	// CheckpointRows is the number of data rows between forced flushes.
	CheckpointRows int `mapstructure:"checkpoint-rows"`
	// MonitorInterval is the period of memory and progress logs; zero
	// disables them.
	MonitorInterval time.Duration `mapstructure:"monitor-interval"`
}

// DefaultRequest returns a request with every default filled in.
func DefaultRequest() Request {
	limits := container.DefaultLimits()
	return Request{
		SheetIndex:        -1,
		BatchSize:         writer.DefaultBatchSize,
		TempDir:           "data/temp",
		Strategy:          string(parser.StrategyAuto),
		MemoryThresholdMB: 100,
		MinInflateRatio:   limits.MinInflateRatio,
		MaxEntrySize:      limits.MaxEntrySize,
		CacheSize:         sst.DefaultCacheSize,
		CheckpointRows:    50000,
		MonitorInterval:   monitor.DefaultConfig().Interval,
	}
}

// Validate checks every field. It never modifies the request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return fmt.Errorf("%w: input file is required", ErrInvalidRequest)
	}
	info, err := os.Stat(r.Input)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, r.Input)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: input %s is a directory", ErrInvalidRequest, r.Input)
	}

	format, err := writer.ParseFormat(r.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if format != writer.FormatCSV && strings.TrimSpace(r.Output) == "" {
		return fmt.Errorf("%w: output file is required for %s", ErrInvalidRequest, format)
	}
	if format != writer.FormatJSON && r.PrettyPrint {
		return fmt.Errorf("%w: pretty printing applies to json only", ErrInvalidRequest)
	}
	if _, err := parser.ParseStrategy(r.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch {
	case r.HeaderRow < 0:
		return fmt.Errorf("%w: header row must be >= 0", ErrInvalidRequest)
	case r.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be > 0", ErrInvalidRequest)
	case r.MemoryThresholdMB <= 0:
		return fmt.Errorf("%w: memory threshold must be > 0", ErrInvalidRequest)
	case r.MinInflateRatio < 0:
		return fmt.Errorf("%w: min inflate ratio must be >= 0", ErrInvalidRequest)
	case r.MaxEntrySize <= 0:
		return fmt.Errorf("%w: max entry size must be > 0", ErrInvalidRequest)
	case r.CacheSize <= 0:
		return fmt.Errorf("%w: shared string cache size must be > 0", ErrInvalidRequest)
	case r.CheckpointRows <= 0:
		return fmt.Errorf("%w: checkpoint rows must be > 0", ErrInvalidRequest)
	case r.MonitorInterval < 0:
		return fmt.Errorf("%w: monitor interval must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// Selector returns the sheet selector of the request.
func (r Request) Selector() models.SheetSelector {
	if r.SheetIndex >= 0 {
		return models.IndexSelector(r.SheetIndex)
	}
	return models.NameSelector(r.SheetName)
}

// Limits returns the decompression limits of the request.
func (r Request) Limits() container.Limits {
	limits := container.DefaultLimits()
	limits.MinInflateRatio = r.MinInflateRatio
	limits.MaxEntrySize = r.MaxEntrySize
	return limits
}

// Option configures Convert.
type Option func(*settings)

type settings struct {
	log     *zap.Logger
	metrics *metrics.Collector
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithMetrics records conversion counters in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *settings) { s.metrics = c }
}
