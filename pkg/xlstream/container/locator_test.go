package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/models"
)

func TestLocate(t *testing.T) {
	sheets := sheetRefs([]string{"Summary", "Data", "data", "Archive"})

	tests := []struct {
		name     string
		sel      models.SheetSelector
		expected string
		err      error
	}{
		{"default first sheet", models.SheetSelector{}, "Summary", nil},
		{"index", models.IndexSelector(3), "Archive", nil},
		{"index wins over name", models.SheetSelector{Index: intPtr(0), Name: "Data"}, "Summary", nil},
		{"name case-insensitive", models.NameSelector("ARCHIVE"), "Archive", nil},
		{"duplicate names first match wins", models.NameSelector("DATA"), "Data", nil},
		{"name trimmed", models.NameSelector("  archive "), "Archive", nil},
		{"index out of range", models.IndexSelector(4), "", ErrSheetIndexOutOfRange},
		{"negative index", models.IndexSelector(-1), "", ErrSheetIndexOutOfRange},
		{"unknown name", models.NameSelector("Nope"), "", ErrSheetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Locate(sheets, tt.sel)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref.Name)
		})
	}
}

func TestLocateEmptyWorkbook(t *testing.T) {
	_, err := Locate(nil, models.SheetSelector{})
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func intPtr(i int) *int { return &i }

func sheetRefs(names []string) []models.SheetRef {
	refs := make([]models.SheetRef, len(names))
	for i, n := range names {
		refs[i] = models.SheetRef{Index: i, Name: n}
	}
	return refs
}
