package xlstream

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/assembler"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/logger"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/monitor"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/parser"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/writer"
	"go.uber.org/zap"
)

// Convert streams the selected sheet of req.Input into the requested
// format. Every fatal failure is returned as a *ConversionError; the output
// writer is closed on all paths, so partial output stays well-formed.
func Convert(ctx context.Context, req Request, opts ...Option) (err error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	log := logger.FromContext(logger.WithInput(ctx, req.Input), s.log)
	start := time.Now()

	if err := req.Validate(); err != nil {
		return NewConversionError(req.Input, StageValidate, err)
	}
	format, err := writer.ParseFormat(req.Format)
	if err != nil {
		return NewConversionError(req.Input, StageValidate, err)
	}
	strategy, err := parser.ParseStrategy(req.Strategy)
	if err != nil {
		return NewConversionError(req.Input, StageValidate, err)
	}

	size, err := parser.FileSize(req.Input)
	if err != nil {
		return NewConversionError(req.Input, StageInspect, err)
	}

	mon := monitor.DefaultConfig()
	mon.Interval = req.MonitorInterval
	srcCfg := parser.SourceConfig{
		Path:              req.Input,
		Sheet:             req.Selector(),
		Strategy:          strategy,
		Limits:            req.Limits(),
		MemoryThresholdMB: req.MemoryThresholdMB,
		TempDir:           req.TempDir,
		CacheSize:         req.CacheSize,
		Strings:           parser.SharedStrings(req.CacheSize, log, s.metrics),
		Monitor:           mon,
		Logger:            log,
		Metrics:           s.metrics,
	}

	// The sheet is resolved before the destination is created so a bad
	// selector leaves nothing behind.
	ref, err := parser.ResolveSheet(srcCfg)
	if err != nil {
		return NewConversionError(req.Input, StageResolve, err)
	}

	w, err := writer.New(writer.Config{
		Format:      format,
		Output:      req.Output,
		TempDir:     req.TempDir,
		Stem:        stem(req.Input),
		BatchSize:   req.BatchSize,
		Overwrite:   req.Overwrite,
		PrettyPrint: req.PrettyPrint,
		Logger:      log,
	})
	if err != nil {
		return NewConversionError(req.Input, StageOutput, err)
	}
	if err := w.Open(); err != nil {
		w.Close()
		return NewConversionError(req.Input, StageOutput, err)
	}

	asm := assembler.New(w, assembler.Config{
		HeaderRow:       req.HeaderRow,
		ContinueOnError: req.ContinueOnError,
		CheckpointRows:  req.CheckpointRows,
		Logger:          log,
		Metrics:         s.metrics,
	})
	defer func() {
		if cerr := asm.Abort(); cerr != nil {
			log.Error("closing output after failure", zap.Error(cerr))
			if err == nil {
				err = NewConversionError(req.Input, StageFinalize, cerr)
			}
		}
	}()

	src := parser.Select(srcCfg, size)

	log.Info("conversion started",
		zap.String("format", string(format)),
		zap.String("source", src.Name()),
		zap.String("sheet", ref.Name),
		zap.Int64("size_bytes", size),
		zap.Int("header_row", req.HeaderRow),
		zap.Bool("continue_on_error", req.ContinueOnError))

	err = src.Stream(ctx, asm)
	s.metrics.ObserveDuration(src.Name(), err, time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("conversion cancelled", zap.Int64("rows", asm.Rows()))
		}
		return NewConversionError(req.Input, StageStream, err)
	}

	log.Info("conversion finished",
		zap.Int64("rows", w.RowsWritten()),
		zap.Int64("skipped", asm.Skipped()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// stem is the input base name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
