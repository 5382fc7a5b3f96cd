package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// StreamingSource reads a sheet with the excelize row iterator. Worksheets
// larger than the memory threshold are spilled to the temp directory by
// excelize instead of being held in memory. Values are the raw stored text,
// the same as EventSource produces; number formats are not applied.
type StreamingSource struct {
	cfg  SourceConfig
	rows atomic.Int64
}

// NewStreamingSource creates a StreamingSource.
func NewStreamingSource(cfg SourceConfig) *StreamingSource {
	return &StreamingSource{cfg: cfg}
}

// Name returns "streaming".
func (s *StreamingSource) Name() string { return string(StrategyStreaming) }

// RowsRead returns the number of rows streamed so far.
func (s *StreamingSource) RowsRead() int64 { return s.rows.Load() }

func (s *StreamingSource) options() (excelize.Options, error) {
	opts := excelize.Options{RawCellValue: true}
	if s.cfg.Limits.MaxEntrySize > 0 {
		opts.UnzipSizeLimit = s.cfg.Limits.MaxEntrySize
	}
	if s.cfg.MemoryThresholdMB > 0 {
		opts.UnzipXMLSizeLimit = int64(s.cfg.MemoryThresholdMB) << 20
	}
	if opts.UnzipSizeLimit > 0 && opts.UnzipXMLSizeLimit > opts.UnzipSizeLimit {
		opts.UnzipXMLSizeLimit = opts.UnzipSizeLimit
	}
	if s.cfg.TempDir != "" {
		if err := os.MkdirAll(s.cfg.TempDir, 0o755); err != nil {
			return opts, fmt.Errorf("create temp dir: %w", err)
		}
		opts.TmpDir = s.cfg.TempDir
	}
	return opts, nil
}

// Stream opens the workbook, resolves the sheet and emits its rows. Row
// indices are 0-based; excelize yields gap rows as empty rows, so the
// iteration counter matches the sheet row number.
func (s *StreamingSource) Stream(ctx context.Context, h RowHandler) error {
	log := s.cfg.logger()
	start := time.Now()

	ref, err := ResolveSheet(s.cfg)
	if err != nil {
		return err
	}

	opts, err := s.options()
	if err != nil {
		return err
	}
	f, err := excelize.OpenFile(s.cfg.Path, opts)
	if err != nil {
		return fmt.Errorf("open workbook: %w", mapUnzipError(err))
	}
	defer f.Close()
	log.Info("streaming sheet",
		zap.String("sheet", ref.Name),
		zap.Int("index", ref.Index),
		zap.Int("memory_threshold_mb", s.cfg.MemoryThresholdMB))

	rows, err := f.Rows(ref.Name)
	if err != nil {
		return fmt.Errorf("open rows of %q: %w", ref.Name, mapUnzipError(err))
	}
	defer rows.Close()

	stop := startMonitor(ctx, s.cfg, s.RowsRead)
	defer stop()

	rowIdx := -1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rowIdx++

		cols, cerr := rows.Columns()
		h.OnRowStart(rowIdx)
		if cerr != nil {
			h.OnCell(models.Cell{Col: -1, Err: fmt.Errorf("row %d: %w", rowIdx+1, cerr)})
		} else {
			for colIdx, value := range cols {
				if value == "" {
					continue
				}
				h.OnCell(models.Cell{Col: colIdx, Value: value})
			}
		}
		s.rows.Add(1)
		if err := h.OnRowEnd(rowIdx); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("read rows of %q: %w", ref.Name, mapUnzipError(err))
	}

	logDone(log, s.Name(), ref.Name, s.rows.Load(), start)
	return h.OnSheetEnd()
}

// mapUnzipError turns the excelize unzip size refusal into
// container.ErrZipBombSuspected. It is fatal here: the refused part is
// bulk sheet data, which the fallback extractor never serves.
func mapUnzipError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "unzip size exceeds") || strings.Contains(msg, "exceeds the limit") {
		return fmt.Errorf("%w: %v", container.ErrZipBombSuspected, err)
	}
	return err
}
