package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/sst"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// EventSource decodes the worksheet XML token by token through the guarded
// container streams. Shared strings are resolved lazily. Values are the raw
// stored text (booleans stay "1" and "0"); number formats are not applied.
type EventSource struct {
	cfg  SourceConfig
	rows atomic.Int64
}

// NewEventSource creates an EventSource.
func NewEventSource(cfg SourceConfig) *EventSource {
	return &EventSource{cfg: cfg}
}

// Name returns "event".
func (s *EventSource) Name() string { return string(StrategyEvent) }

// RowsRead returns the number of rows decoded so far.
func (s *EventSource) RowsRead() int64 { return s.rows.Load() }

// Stream opens the container, resolves the sheet and decodes it.
func (s *EventSource) Stream(ctx context.Context, h RowHandler) error {
	log := s.cfg.logger()
	start := time.Now()

	a, err := container.Open(s.cfg.Path, s.cfg.Limits, log)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, ref, err := a.OpenSheet(s.cfg.Sheet)
	if err != nil {
		return err
	}
	defer rc.Close()
	log.Info("decoding sheet",
		zap.String("sheet", ref.Name),
		zap.Int("index", ref.Index),
		zap.String("part", ref.Part))

	var strs StringResolver
	if a.HasPart(container.SharedStringsPart) {
		newStrings := s.cfg.Strings
		if newStrings == nil {
			newStrings = SharedStrings(s.cfg.CacheSize, log, s.cfg.Metrics)
		}
		if strs, err = newStrings(a); err != nil {
			return err
		}
		if r, ok := strs.(*sst.Resolver); ok {
			defer func() {
				log.Info("shared string cache",
					zap.Int64("hits", r.Hits()),
					zap.Int64("misses", r.Misses()),
					zap.Int("cached", r.Cached()),
					zap.Bool("fallback", r.Fallback()))
			}()
		}
	}

	stop := startMonitor(ctx, s.cfg, s.RowsRead)
	defer stop()

	if err := s.decode(ctx, rc, strs, h); err != nil {
		return err
	}
	logDone(log, s.Name(), ref.Name, s.rows.Load(), start)
	return h.OnSheetEnd()
}

// decode walks the worksheet tokens up to the end of <sheetData>. It does
// not call OnSheetEnd.
func (s *EventSource) decode(ctx context.Context, r io.Reader, strs StringResolver, h RowHandler) error {
	d := xml.NewDecoder(r)
	row := -1
	col := -1
	inRow := false

	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode worksheet: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				if err := ctx.Err(); err != nil {
					return err
				}
				row = rowNumber(t.Attr, row)
				col = -1
				inRow = true
				h.OnRowStart(row)
			case "c":
				if !inRow {
					if err := d.Skip(); err != nil {
						return fmt.Errorf("decode worksheet: %w", err)
					}
					continue
				}
				cell, err := decodeCell(d, t, col, strs)
				if err != nil {
					return err
				}
				if cell.Err == nil {
					col = cell.Col
				}
				if cell.Err != nil || cell.Value != "" {
					h.OnCell(cell)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "row":
				inRow = false
				s.rows.Add(1)
				if err := h.OnRowEnd(row); err != nil {
					return err
				}
			case "sheetData":
				return nil
			}
		}
	}
}

// rowNumber returns the 0-based row index from the r attribute, or the
// previous index plus one when r is absent or unusable.
func rowNumber(attrs []xml.Attr, prev int) int {
	for _, a := range attrs {
		if a.Name.Local != "r" {
			continue
		}
		if n, err := strconv.Atoi(a.Value); err == nil && n > 0 {
			return n - 1
		}
	}
	return prev + 1
}

type xlsxC struct {
	R  string      `xml:"r,attr"`
	T  string      `xml:"t,attr"`
	V  string      `xml:"v"`
	IS *inlineText `xml:"is"`
}

// inlineText is the <is> body of an inline string cell. Phonetic runs are
// not mapped.
type inlineText struct {
	T *struct {
		Value string `xml:",chardata"`
	} `xml:"t"`
	R []struct {
		T struct {
			Value string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

func (is *inlineText) text() string {
	if is == nil {
		return ""
	}
	var b strings.Builder
	if is.T != nil {
		b.WriteString(is.T.Value)
	}
	for _, run := range is.R {
		b.WriteString(run.T.Value)
	}
	return sst.Unescape(b.String())
}

// decodeCell decodes one <c> element. Problems confined to the cell are
// returned in Cell.Err; a returned error is fatal for the sheet.
func decodeCell(d *xml.Decoder, start xml.StartElement, prevCol int, strs StringResolver) (models.Cell, error) {
	var c xlsxC
	if err := d.DecodeElement(&c, &start); err != nil {
		return models.Cell{}, fmt.Errorf("decode worksheet cell: %w", err)
	}

	cell := models.Cell{Col: prevCol + 1}
	if c.R != "" {
		colNum, _, err := excelize.CellNameToCoordinates(c.R)
		if err != nil {
			return models.Cell{Col: -1, Err: fmt.Errorf("%w %q: %v", ErrMalformedReference, c.R, err)}, nil
		}
		cell.Col = colNum - 1
	}

	switch c.T {
	case "s":
		if c.V == "" {
			return cell, nil
		}
		if strs == nil {
			return models.Cell{}, fmt.Errorf("%w: cell %s references a shared string", sst.ErrStringTableMissing, c.R)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(c.V))
		if err != nil {
			cell.Err = fmt.Errorf("cell %s: shared string index %q: %w", c.R, c.V, err)
			return cell, nil
		}
		text, err := strs.String(idx)
		if err != nil {
			if errors.Is(err, sst.ErrIndexOutOfRange) {
				cell.Err = fmt.Errorf("cell %s: %w", c.R, err)
				return cell, nil
			}
			return models.Cell{}, err
		}
		cell.Value = text
	case "inlineStr":
		cell.Value = c.IS.text()
	default:
		cell.Value = c.V
	}
	return cell, nil
}
