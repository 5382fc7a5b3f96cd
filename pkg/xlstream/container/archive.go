// Package container provides guarded access to the parts of an XLSX container:
// part streams with decompression-bomb detection, a bounded fallback
// extractor for small metadata parts, and sheet resolution.
package container

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"go.uber.org/zap"
)

// Well-known part names.
const (
	WorkbookPart      = "xl/workbook.xml"
	WorkbookRelsPart  = "xl/_rels/workbook.xml.rels"
	SharedStringsPart = "xl/sharedStrings.xml"
)

// Limits configures bomb detection on part streams.
type Limits struct {
	// MinInflateRatio is the minimum compressed/decompressed ratio once a
	// stream passed the grace size. Zero disables the check.
	MinInflateRatio float64
	// MaxEntrySize caps the decompressed size of any part. Zero disables it.
	MaxEntrySize int64
	// Fallback configures the Extractor built for this container.
	Fallback FallbackLimits
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MinInflateRatio: 0.01,
		MaxEntrySize:    6 << 30,
		Fallback:        DefaultFallbackLimits(),
	}
}

// Archive is an open XLSX container.
type Archive struct {
	path   string
	rc     *zip.ReadCloser
	files  map[string]*zip.File
	limits Limits
	log    *zap.Logger

	sheetsOnce sync.Once
	sheets     []models.SheetRef
	sheetsErr  error

	extractorOnce sync.Once
	extractor     *Extractor
	extractorErr  error
}

// Open opens the container at path.
func Open(path string, limits Limits, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}

	files := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		files[f.Name] = f
	}
	log.Debug("container opened", zap.String("path", path), zap.Int("parts", len(files)))

	return &Archive{
		path:   path,
		rc:     rc,
		files:  files,
		limits: limits,
		log:    log,
	}, nil
}

// Path returns the container file path.
func (a *Archive) Path() string { return a.path }

// HasPart reports whether the container holds a part called name.
func (a *Archive) HasPart(name string) bool {
	_, ok := a.files[name]
	return ok
}

// OpenPart returns a guarded stream over the decompressed part. Reads fail
// with ErrZipBombSuspected when the stream breaches the configured limits.
// The caller must close the stream.
func (a *Archive) OpenPart(name string) (io.ReadCloser, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, name)
	}
	if err := a.checkDeclared(f); err != nil {
		a.log.Warn("part rejected by declared sizes", zap.String("part", name), zap.Error(err))
		return nil, err
	}

	switch f.Method {
	case zip.Store:
		raw, err := f.OpenRaw()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", name, err)
		}
		cr := &countingReader{r: raw}
		return newGuardReader(name, cr, nil, func() int64 { return cr.n }, a.limits, f.CRC32), nil
	case zip.Deflate:
		raw, err := f.OpenRaw()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", name, err)
		}
		cr := &countingReader{r: raw}
		fr := flate.NewReader(cr)
		return newGuardReader(name, fr, fr, func() int64 { return cr.n }, a.limits, f.CRC32), nil
	default:
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", name, err)
		}
		declared := int64(f.CompressedSize64)
		return newGuardReader(name, rc, rc, func() int64 { return declared }, a.limits, 0), nil
	}
}

func (a *Archive) checkDeclared(f *zip.File) error {
	size := int64(f.UncompressedSize64)
	if a.limits.MaxEntrySize > 0 && size > a.limits.MaxEntrySize {
		return fmt.Errorf("%w: %s: declared size %d exceeds %d bytes", ErrZipBombSuspected, f.Name, size, a.limits.MaxEntrySize)
	}
	if a.limits.MinInflateRatio > 0 && size > graceEntrySize {
		ratio := float64(f.CompressedSize64) / float64(size)
		if ratio < a.limits.MinInflateRatio {
			return fmt.Errorf("%w: %s: declared compression ratio %.5f below minimum %.5f",
				ErrZipBombSuspected, f.Name, ratio, a.limits.MinInflateRatio)
		}
	}
	return nil
}

// Extractor returns the fallback extractor of this container, building its
// entry index on first use.
func (a *Archive) Extractor() (*Extractor, error) {
	a.extractorOnce.Do(func() {
		a.extractor, a.extractorErr = NewExtractor(a, a.limits.Fallback, a.log)
	})
	return a.extractor, a.extractorErr
}

// ReadMetaPart reads a small metadata part fully. A suspected bomb on the
// guarded stream switches to the bounded Extractor.
func (a *Archive) ReadMetaPart(name string) ([]byte, error) {
	data, err := a.readGuarded(name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrZipBombSuspected) {
		return nil, err
	}

	a.log.Warn("falling back to bounded extraction", zap.String("part", name), zap.Error(err))
	x, xerr := a.Extractor()
	if xerr != nil {
		return nil, xerr
	}
	return x.ExtractEntry(name)
}

func (a *Archive) readGuarded(name string) ([]byte, error) {
	rc, err := a.OpenPart(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Sheets returns the workbook sheets in workbook order.
func (a *Archive) Sheets() ([]models.SheetRef, error) {
	a.sheetsOnce.Do(func() {
		a.sheets, a.sheetsErr = a.readSheets()
	})
	return a.sheets, a.sheetsErr
}

func (a *Archive) readSheets() ([]models.SheetRef, error) {
	workbookXML, err := a.ReadMetaPart(WorkbookPart)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	relsXML, err := a.ReadMetaPart(WorkbookRelsPart)
	if err != nil {
		return nil, fmt.Errorf("read workbook relationships: %w", err)
	}

	entries, err := parseWorkbookSheets(workbookXML)
	if err != nil {
		return nil, fmt.Errorf("parse workbook: %w", err)
	}
	targets, err := parseWorkbookRels(relsXML)
	if err != nil {
		return nil, fmt.Errorf("parse workbook relationships: %w", err)
	}

	sheets := make([]models.SheetRef, 0, len(entries))
	for _, e := range entries {
		part, ok := targets[e.rID]
		if !ok {
			a.log.Warn("sheet without worksheet relationship", zap.String("sheet", e.name), zap.String("rid", e.rID))
			continue
		}
		sheets = append(sheets, models.SheetRef{Index: len(sheets), Name: e.name, Part: part})
	}
	return sheets, nil
}

// OpenSheet resolves sel and opens the worksheet part. The returned stream
// is guarded like OpenPart and is never served through the fallback path.
func (a *Archive) OpenSheet(sel models.SheetSelector) (io.ReadCloser, models.SheetRef, error) {
	sheets, err := a.Sheets()
	if err != nil {
		return nil, models.SheetRef{}, err
	}
	ref, err := Locate(sheets, sel)
	if err != nil {
		return nil, models.SheetRef{}, err
	}
	rc, err := a.OpenSheetPart(ref)
	if err != nil {
		return nil, ref, err
	}
	return rc, ref, nil
}

// OpenSheetPart opens the worksheet part of a resolved sheet.
func (a *Archive) OpenSheetPart(ref models.SheetRef) (io.ReadCloser, error) {
	if ref.Part == "" {
		return nil, fmt.Errorf("%w: sheet %q has no part", ErrPartNotFound, ref.Name)
	}
	return a.OpenPart(ref.Part)
}

// Close releases the container.
func (a *Archive) Close() error {
	if a.rc == nil {
		return nil
	}
	err := a.rc.Close()
	a.rc = nil
	return err
}
