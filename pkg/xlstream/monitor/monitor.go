// Package monitor samples process memory and conversion progress in the
// background. It only logs and never touches pipeline state.
package monitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Config configures a monitor.
type Config struct {
	// Interval between samples. Zero disables monitoring.
	Interval time.Duration
	// WarnPercent is the process memory share of system memory above which
	// a warning is logged.
	WarnPercent float64
	// Progress, when set, returns the number of rows processed so far. It is
	// called from the monitor goroutine and must be safe for that.
	Progress func() int64
}

// DefaultConfig samples every 30 seconds and warns above 70 %.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		WarnPercent: 70,
	}
}

// Sample is one memory observation.
type Sample struct {
	RSS                uint64
	ProcessPercent     float64
	SystemUsedPercent  float64
	SystemAvailable    uint64
	HeapAlloc          uint64
	GoroutineCount     int
	RowsProcessed      int64
	RowsPerSecond      float64
	Elapsed            time.Duration
	AboveWarnThreshold bool
}

// Monitor periodically samples resource usage.
type Monitor struct {
	cfg   Config
	log   *zap.Logger
	proc  *process.Process
	start time.Time

	lastRows int64
	lastAt   time.Time
}

// New creates a Monitor for the current process.
func New(cfg Config, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WarnPercent <= 0 {
		cfg.WarnPercent = DefaultConfig().WarnPercent
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("process handle unavailable", zap.Error(err))
	}
	now := time.Now()
	return &Monitor{cfg: cfg, log: log, proc: proc, start: now, lastAt: now}
}

// Sample takes one observation.
func (m *Monitor) Sample() Sample {
	var s Sample
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			s.RSS = info.RSS
		}
		if pct, err := m.proc.MemoryPercent(); err == nil {
			s.ProcessPercent = float64(pct)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.SystemUsedPercent = vm.UsedPercent
		s.SystemAvailable = vm.Available
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapAlloc = ms.HeapAlloc
	s.GoroutineCount = runtime.NumGoroutine()

	now := time.Now()
	s.Elapsed = now.Sub(m.start)
	if m.cfg.Progress != nil {
		s.RowsProcessed = m.cfg.Progress()
		if d := now.Sub(m.lastAt).Seconds(); d > 0 {
			s.RowsPerSecond = float64(s.RowsProcessed-m.lastRows) / d
		}
		m.lastRows = s.RowsProcessed
		m.lastAt = now
	}
	s.AboveWarnThreshold = s.ProcessPercent >= m.cfg.WarnPercent
	return s
}

func (m *Monitor) report(s Sample) {
	fields := []zap.Field{
		zap.Uint64("rss_bytes", s.RSS),
		zap.Float64("process_mem_percent", s.ProcessPercent),
		zap.Float64("system_mem_percent", s.SystemUsedPercent),
		zap.Uint64("heap_alloc_bytes", s.HeapAlloc),
		zap.Duration("elapsed", s.Elapsed),
	}
	if m.cfg.Progress != nil {
		fields = append(fields,
			zap.Int64("rows", s.RowsProcessed),
			zap.Float64("rows_per_sec", s.RowsPerSecond))
	}
	if s.AboveWarnThreshold {
		m.log.Warn("memory usage above threshold", append(fields, zap.Float64("threshold_percent", m.cfg.WarnPercent))...)
		return
	}
	m.log.Info("progress", fields...)
}

// Run samples until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.report(m.Sample())
		}
	}
}

// Start runs a monitor in a background goroutine. The returned function
// stops it and waits for the goroutine to exit; it is safe to call twice.
func Start(ctx context.Context, cfg Config, log *zap.Logger) (stop func()) {
	if cfg.Interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	m := New(cfg, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
