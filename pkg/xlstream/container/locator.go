package container

import (
	"fmt"
	"strings"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
)

// Locate resolves sel against sheets (workbook order). An explicit index wins,
// then a case-insensitive name match (first match wins), then the first sheet.
func Locate(sheets []models.SheetRef, sel models.SheetSelector) (models.SheetRef, error) {
	if sel.Index != nil {
		i := *sel.Index
		if i < 0 || i >= len(sheets) {
			return models.SheetRef{}, fmt.Errorf("%w: %d (workbook has %d sheets: %s)",
				ErrSheetIndexOutOfRange, i, len(sheets), sheetNames(sheets))
		}
		return sheets[i], nil
	}

	if name := strings.TrimSpace(sel.Name); name != "" {
		for _, s := range sheets {
			if strings.EqualFold(s.Name, name) {
				return s, nil
			}
		}
		return models.SheetRef{}, fmt.Errorf("%w: %q (available: %s)", ErrSheetNotFound, sel.Name, sheetNames(sheets))
	}

	if len(sheets) == 0 {
		return models.SheetRef{}, fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	return sheets[0], nil
}

func sheetNames(sheets []models.SheetRef) string {
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	return "[" + strings.Join(names, ", ") + "]"
}
