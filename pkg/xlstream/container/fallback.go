package container

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// FallbackLimits bounds manual extraction.
type FallbackLimits struct {
	// MaxEntrySize is the absolute decompressed size cap.
	MaxEntrySize int64
	// MaxInflationRatio caps decompressed/compressed size.
	MaxInflationRatio int64
	// BufferSize is the read chunk size; limits are checked after every chunk.
	BufferSize int
}

// DefaultFallbackLimits returns 100 MiB / 1000x / 8 KiB.
func DefaultFallbackLimits() FallbackLimits {
	return FallbackLimits{
		MaxEntrySize:      100 << 20,
		MaxInflationRatio: 1000,
		BufferSize:        8 << 10,
	}
}

// unknownCompressedSize is assumed when an entry does not declare one.
const unknownCompressedSize = 10 << 10

// EntryIndex maps entry names to their compressed size.
type EntryIndex map[string]int64

// Extractor decompresses small metadata parts under hard caps. It is used
// when the guarded stream of a part looks like a decompression bomb, and it
// must never serve bulk sheet data.
type Extractor struct {
	files  map[string]*zip.File
	index  EntryIndex
	limits FallbackLimits
	log    *zap.Logger
}

// NewExtractor scans the container entries once and builds the index.
func NewExtractor(a *Archive, limits FallbackLimits, log *zap.Logger) (*Extractor, error) {
	if a == nil || a.rc == nil {
		return nil, fmt.Errorf("fallback extractor: container is not open")
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultFallbackLimits()
	if limits.MaxEntrySize <= 0 {
		limits.MaxEntrySize = def.MaxEntrySize
	}
	if limits.MaxInflationRatio <= 0 {
		limits.MaxInflationRatio = def.MaxInflationRatio
	}
	if limits.BufferSize <= 0 {
		limits.BufferSize = def.BufferSize
	}

	x := &Extractor{
		files:  make(map[string]*zip.File, len(a.rc.File)),
		index:  make(EntryIndex, len(a.rc.File)),
		limits: limits,
		log:    log,
	}
	for _, f := range a.rc.File {
		x.files[f.Name] = f
		x.index[f.Name] = int64(f.CompressedSize64)
		log.Debug("indexed entry", zap.String("entry", f.Name), zap.Uint64("compressed", f.CompressedSize64))
	}
	log.Info("fallback index built", zap.String("path", a.path), zap.Int("entries", len(x.index)))
	return x, nil
}

// HasEntry reports whether the index holds name.
func (x *Extractor) HasEntry(name string) bool {
	_, ok := x.index[name]
	return ok
}

// Entries returns the indexed entry names, sorted.
func (x *Extractor) Entries() []string {
	names := make([]string, 0, len(x.index))
	for n := range x.index {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExtractEntry fully decompresses name. It aborts with ErrEntryTooLarge or
// ErrInflationRatioExceeded as soon as a chunk crosses a cap; partial data is
// never returned.
func (x *Extractor) ExtractEntry(name string) ([]byte, error) {
	f, ok := x.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, name)
	}

	compressed := x.index[name]
	if compressed <= 0 {
		compressed = unknownCompressedSize
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	defer rc.Close()

	var out bytes.Buffer
	buf := make([]byte, x.limits.BufferSize)
	var total int64
	for {
		n, rerr := rc.Read(buf)
		total += int64(n)

		if total > x.limits.MaxEntrySize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, name, x.limits.MaxEntrySize)
		}
		if total > compressed*x.limits.MaxInflationRatio {
			return nil, fmt.Errorf("%w: %s inflates beyond %d:1", ErrInflationRatioExceeded, name, x.limits.MaxInflationRatio)
		}
		out.Write(buf[:n])

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("extract %s: %w", name, rerr)
		}
	}

	x.log.Info("entry extracted",
		zap.String("entry", name),
		zap.Int64("bytes", total),
		zap.Float64("ratio", float64(total)/float64(compressed)))
	return out.Bytes(), nil
}
