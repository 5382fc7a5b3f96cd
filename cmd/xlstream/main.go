// Package main provides the CLI entry point for xlstream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ukaji3/xlstream-go/pkg/xlstream"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/logger"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"go.uber.org/zap"
)

var version = "0.1.0"

const envPrefix = "XLSTREAM"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "xlstream [input.xlsx]",
		Short: "Stream a sheet of a large Excel file into CSV, JSON or NDJSON",
		Long: `xlstream converts one sheet of a very large XLSX workbook into CSV chunks,
a JSON array or newline-delimited JSON without loading the workbook into memory.

Flags can also be set in a YAML config file (--config) or through
XLSTREAM_* environment variables, e.g. XLSTREAM_BATCH_SIZE=10000.`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args[0])
		},
	}

	def := xlstream.DefaultRequest()
	f := rootCmd.Flags()
	f.StringP("output", "o", "", "Output file path (required for json and ndjson)")
	f.StringP("format", "f", "", "Output format: csv, json, ndjson")
	f.StringP("sheet-name", "s", "", "Sheet to convert, matched case-insensitively (default: first sheet)")
	f.Int("sheet-index", def.SheetIndex, "0-based sheet index; wins over --sheet-name")
	f.Int("header-row", def.HeaderRow, "0-based index of the header row")
	f.IntP("batch-size", "b", def.BatchSize, "Maximum data rows per CSV chunk")
	f.BoolP("continue-on-error", "c", false, "Skip rows that fail instead of aborting")
	f.String("temp-dir", def.TempDir, "Directory for CSV chunks and spilled worksheet data")
	f.Bool("overwrite", false, "Overwrite existing output files")
	f.Bool("pretty", false, "Pretty-print JSON output")
	f.String("strategy", def.Strategy, "Parsing strategy: auto, streaming, event")
	f.Int("mem-threshold", def.MemoryThresholdMB, "Worksheet size in MB above which streaming spills to disk")
	f.Float64("min-inflate-ratio", def.MinInflateRatio, "Minimum compressed/decompressed ratio before a part is treated as a zip bomb (0 disables)")
	f.Int64("max-entry-size", def.MaxEntrySize, "Maximum decompressed size of a container part in bytes")
	f.Int("sst-cache-size", def.CacheSize, "Number of shared strings kept in memory")
	f.Int("checkpoint-rows", def.CheckpointRows, "Data rows between forced flushes")
	f.Duration("monitor-interval", def.MonitorInterval, "Interval of memory and progress logs (0 disables)")
	f.BoolP("verbose", "v", false, "Enable debug logging")
	f.String("log-format", "console", "Log format: console, json")
	f.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	f.String("config", "", "YAML config file")

	_ = v.BindPFlags(f)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return rootCmd
}

// loadRequest merges config file, environment and flags into a Request.
func loadRequest(v *viper.Viper, input string) (xlstream.Request, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return xlstream.Request{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	req := xlstream.DefaultRequest()
	if err := v.Unmarshal(&req); err != nil {
		return xlstream.Request{}, fmt.Errorf("decode configuration: %w", err)
	}
	req.Input = input
	return req, nil
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	cfg := logger.DefaultConfig()
	cfg.Encoding = v.GetString("log-format")
	if v.GetBool("verbose") {
		cfg.Level = "debug"
	}
	return logger.New(cfg)
}

func run(ctx context.Context, v *viper.Viper, input string) (err error) {
	req, err := loadRequest(v, input)
	if err != nil {
		return err
	}

	log, err := newLogger(v)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	mc := metrics.NewCollector(strings.ToLower(req.Format))
	if path := v.GetString("metrics-file"); path != "" {
		defer func() {
			if werr := mc.WriteTextfile(path); werr != nil {
				log.Error("failed to write metrics file", zap.String("path", path), zap.Error(werr))
				err = errors.Join(err, werr)
			}
		}()
	}

	if err := xlstream.Convert(ctx, req, xlstream.WithLogger(log), xlstream.WithMetrics(mc)); err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}
	return nil
}
