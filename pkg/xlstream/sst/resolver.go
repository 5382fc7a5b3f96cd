// Package sst resolves shared string table indices lazily.
//
// Only the declared count is read up front. Lookups are served from a bounded
// LRU cache; a miss re-scans the table and stops at the requested item.
package sst

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/metrics"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of strings kept when no size is configured.
const DefaultCacheSize = 10000

// ErrStringTableMissing indicates the workbook has no shared string table.
var ErrStringTableMissing = errors.New("shared string table missing")

// ErrIndexOutOfRange indicates a lookup outside the shared string table.
var ErrIndexOutOfRange = errors.New("shared string index out of range")

// Container is the part access the resolver needs. *container.Archive
// satisfies it.
type Container interface {
	HasPart(name string) bool
	OpenPart(name string) (io.ReadCloser, error)
	Extractor() (*container.Extractor, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics reports cache hits and misses to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = c }
}

// WithPart overrides the table part name.
func WithPart(name string) Option {
	return func(r *Resolver) { r.part = name }
}

// Resolver looks up shared strings by index. It is not safe for concurrent
// use; a conversion pipeline drives it from one goroutine.
type Resolver struct {
	src     Container
	part    string
	cache   *lru.Cache[int, string]
	log     *zap.Logger
	metrics *metrics.Collector

	initialized bool
	count       int
	// data holds the table once the guarded stream was refused and the
	// fallback extractor served it.
	data []byte

	hits   int64
	misses int64
}

// New creates a Resolver holding at most cacheSize strings.
func New(src Container, cacheSize int, opts ...Option) (*Resolver, error) {
	if src == nil {
		return nil, errors.New("shared string resolver: nil container")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[int, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("shared string cache: %w", err)
	}

	r := &Resolver{
		src:   src,
		part:  container.SharedStringsPart,
		cache: cache,
		log:   zap.NewNop(),
		count: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize reads the declared string count from the opening tag of the
// table. It is called by String when needed; calling it twice is a no-op.
func (r *Resolver) Initialize() error {
	if r.initialized {
		return nil
	}
	if !r.src.HasPart(r.part) {
		return fmt.Errorf("%w: %s", ErrStringTableMissing, r.part)
	}

	count, err := r.withTable(readCount)
	if err != nil {
		return err
	}
	r.count = count
	r.initialized = true
	r.log.Info("shared strings initialized",
		zap.String("part", r.part),
		zap.Int("count", r.count),
		zap.Bool("fallback", r.data != nil))
	return nil
}

// String returns the text of the shared string at index.
func (r *Resolver) String(index int) (string, error) {
	if err := r.Initialize(); err != nil {
		return "", err
	}
	if index < 0 || (r.count >= 0 && index >= r.count) {
		return "", fmt.Errorf("%w: %d (count %d)", ErrIndexOutOfRange, index, r.count)
	}

	if s, ok := r.cache.Get(index); ok {
		r.hits++
		r.metrics.CacheHit()
		return s, nil
	}
	r.misses++
	r.metrics.CacheMiss()
	r.log.Debug("shared string cache miss", zap.Int("index", index))

	var s string
	_, err := r.withTable(func(rd io.Reader) (int, error) {
		var err error
		s, err = findItem(rd, index)
		return 0, err
	})
	if err != nil {
		return "", err
	}
	r.cache.Add(index, s)
	return s, nil
}

// Count returns the declared number of unique strings, or -1 when the table
// declares none.
func (r *Resolver) Count() int { return r.count }

// Cached returns the number of strings currently cached.
func (r *Resolver) Cached() int { return r.cache.Len() }

// Hits returns the number of lookups served from the cache.
func (r *Resolver) Hits() int64 { return r.hits }

// Misses returns the number of lookups that re-scanned the table.
func (r *Resolver) Misses() int64 { return r.misses }

// Fallback reports whether the table is served by the fallback extractor.
func (r *Resolver) Fallback() bool { return r.data != nil }

// withTable runs fn over the table. A suspected bomb on the guarded stream,
// at open or mid-read, switches the resolver to the fallback extractor and
// reruns fn on the extracted bytes.
func (r *Resolver) withTable(fn func(io.Reader) (int, error)) (int, error) {
	if r.data != nil {
		return fn(bytes.NewReader(r.data))
	}

	n, err := r.fromStream(fn)
	if err == nil || !errors.Is(err, container.ErrZipBombSuspected) {
		return n, err
	}

	r.log.Warn("shared strings refused by guarded stream, using fallback extraction",
		zap.String("part", r.part), zap.Error(err))
	x, err := r.src.Extractor()
	if err != nil {
		return 0, err
	}
	if !x.HasEntry(r.part) {
		return 0, fmt.Errorf("%w: %s not in fallback index", ErrStringTableMissing, r.part)
	}
	data, err := x.ExtractEntry(r.part)
	if err != nil {
		return 0, fmt.Errorf("extract shared strings: %w", err)
	}
	r.data = data
	r.metrics.FallbackExtraction()
	return fn(bytes.NewReader(r.data))
}

func (r *Resolver) fromStream(fn func(io.Reader) (int, error)) (int, error) {
	rc, err := r.src.OpenPart(r.part)
	if err != nil {
		if errors.Is(err, container.ErrPartNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrStringTableMissing, r.part)
		}
		return 0, err
	}
	defer rc.Close()
	return fn(rc)
}

// readCount decodes tokens up to the <sst> start element only.
func readCount(rd io.Reader) (int, error) {
	d := xml.NewDecoder(rd)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return 0, fmt.Errorf("%w: no sst element", ErrStringTableMissing)
		}
		if err != nil {
			return 0, fmt.Errorf("read shared strings header: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "sst" {
			return 0, fmt.Errorf("read shared strings header: unexpected root <%s>", start.Name.Local)
		}
		return declaredCount(start.Attr), nil
	}
}

func declaredCount(attrs []xml.Attr) int {
	var count string
	for _, a := range attrs {
		switch a.Name.Local {
		case "uniqueCount":
			if n, err := strconv.Atoi(a.Value); err == nil {
				return n
			}
		case "count":
			count = a.Value
		}
	}
	if n, err := strconv.Atoi(count); err == nil {
		return n
	}
	return -1
}

// xlsxSI is one shared string item. Phonetic runs (<rPh>) are not mapped and
// so never contribute text.
type xlsxSI struct {
	T *xlsxT  `xml:"t"`
	R []xlsxR `xml:"r"`
}

type xlsxR struct {
	T xlsxT `xml:"t"`
}

type xlsxT struct {
	Value string `xml:",chardata"`
}

func (si xlsxSI) text() string {
	if len(si.R) == 0 {
		if si.T == nil {
			return ""
		}
		return Unescape(si.T.Value)
	}
	var b strings.Builder
	if si.T != nil {
		b.WriteString(si.T.Value)
	}
	for _, run := range si.R {
		b.WriteString(run.T.Value)
	}
	return Unescape(b.String())
}

// findItem scans the table and returns the text of item index, stopping as
// soon as it has been decoded.
func findItem(rd io.Reader, index int) (string, error) {
	d := xml.NewDecoder(rd)
	current := -1
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return "", fmt.Errorf("%w: %d (table holds %d items)", ErrIndexOutOfRange, index, current+1)
		}
		if err != nil {
			return "", fmt.Errorf("scan shared strings: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "si" {
			continue
		}
		current++
		if current < index {
			if err := d.Skip(); err != nil {
				return "", fmt.Errorf("scan shared strings: %w", err)
			}
			continue
		}
		var si xlsxSI
		if err := d.DecodeElement(&si, &start); err != nil {
			return "", fmt.Errorf("decode shared string %d: %w", index, err)
		}
		return si.text(), nil
	}
}
