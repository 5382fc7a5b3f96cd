package parser

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// LargeFileThreshold is the input size at and above which the event source
// is chosen automatically.
const LargeFileThreshold int64 = 500 << 20

// Choose returns the strategy for a file of size bytes. A non-auto hint
// always wins.
func Choose(hint Strategy, size int64) Strategy {
	if hint != "" && hint != StrategyAuto {
		return hint
	}
	if size >= LargeFileThreshold {
		return StrategyEvent
	}
	return StrategyStreaming
}

// Select builds the RowSource for cfg and an input of size bytes.
func Select(cfg SourceConfig, size int64) RowSource {
	chosen := Choose(cfg.Strategy, size)
	cfg.logger().Info("strategy selected",
		zap.String("hint", string(cfg.Strategy)),
		zap.String("strategy", string(chosen)),
		zap.Int64("size_bytes", size))

	if chosen == StrategyEvent {
		return NewEventSource(cfg)
	}
	return NewStreamingSource(cfg)
}

// FileSize returns the size of the file at path.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("input %s is a directory", path)
	}
	return info.Size(), nil
}
