// Package parser turns one worksheet into an ordered stream of row and cell
// events. Two sources exist: StreamingSource reads through excelize and
// EventSource decodes the worksheet XML directly.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/monitor"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/sst"
	"go.uber.org/zap"
)

// ErrMalformedReference indicates a cell coordinate that cannot be resolved.
var ErrMalformedReference = errors.New("malformed cell reference")

// RowHandler receives the events of one sheet in source order:
// OnRowStart, zero or more OnCell, OnRowEnd for every row, then OnSheetEnd
// once. Empty cells produce no event.
type RowHandler interface {
	OnRowStart(row int)
	OnCell(cell models.Cell)
	OnRowEnd(row int) error
	OnSheetEnd() error
}

// RowSource streams one sheet into a RowHandler.
type RowSource interface {
	Name() string
	Stream(ctx context.Context, h RowHandler) error
}

// Strategy selects a RowSource.
type Strategy string

const (
	// StrategyAuto picks a source by file size.
	StrategyAuto Strategy = "auto"
	// StrategyStreaming uses StreamingSource.
	StrategyStreaming Strategy = "streaming"
	// StrategyEvent uses EventSource.
	StrategyEvent Strategy = "event"
)

// ParseStrategy parses s case-insensitively. An empty string is auto.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyStreaming, StrategyEvent:
		return st, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want auto, streaming or event)", s)
	}
}

// SourceConfig configures both sources.
type SourceConfig struct {
	Path     string
	Sheet    models.SheetSelector
	Strategy Strategy

	// Limits guards the container parts read by EventSource. MaxEntrySize
	// also bounds excelize unzipping in StreamingSource.
	Limits container.Limits
	// MemoryThresholdMB is the worksheet size above which StreamingSource
	// spills the worksheet XML to TempDir.
	MemoryThresholdMB int
	TempDir           string
	// CacheSize bounds the shared string cache of EventSource.
	CacheSize int
	// Strings builds the shared string resolver of EventSource. Nil uses
	// SharedStrings with CacheSize.
	Strings StringsFactory

	// Monitor configures background memory and progress logging.
	Monitor monitor.Config

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// StringResolver resolves shared string indices. *sst.Resolver satisfies it.
type StringResolver interface {
	String(index int) (string, error)
}

// StringsFactory builds the resolver for a container that holds a shared
// string table.
type StringsFactory func(src sst.Container) (StringResolver, error)

// SharedStrings returns a StringsFactory backed by an initialized
// sst.Resolver holding at most cacheSize strings.
func SharedStrings(cacheSize int, log *zap.Logger, m *metrics.Collector) StringsFactory {
	return func(src sst.Container) (StringResolver, error) {
		r, err := sst.New(src, cacheSize, sst.WithLogger(log), sst.WithMetrics(m))
		if err != nil {
			return nil, err
		}
		if err := r.Initialize(); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// ResolveSheet resolves cfg.Sheet against the worksheets of the workbook at
// cfg.Path, in workbook order. Chartsheets and dialog sheets are not listed.
// Both sources resolve through the same list.
func ResolveSheet(cfg SourceConfig) (models.SheetRef, error) {
	a, err := container.Open(cfg.Path, cfg.Limits, cfg.logger())
	if err != nil {
		return models.SheetRef{}, err
	}
	defer a.Close()

	sheets, err := a.Sheets()
	if err != nil {
		return models.SheetRef{}, err
	}
	return container.Locate(sheets, cfg.Sheet)
}

func (c SourceConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// startMonitor runs the background monitor for one Stream call.
func startMonitor(ctx context.Context, cfg SourceConfig, progress func() int64) func() {
	mc := cfg.Monitor
	mc.Progress = progress
	return monitor.Start(ctx, mc, cfg.logger())
}

// logDone writes the end-of-sheet summary.
func logDone(log *zap.Logger, source, sheet string, rows int64, start time.Time) {
	elapsed := time.Since(start)
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(rows) / s
	}
	log.Info("sheet streamed",
		zap.String("source", source),
		zap.String("sheet", sheet),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rows_per_sec", rate))
}
