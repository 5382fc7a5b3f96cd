package models

// SheetSelector identifies the sheet to convert. Index wins over Name; when
// both are empty the first sheet is used.
type SheetSelector struct {
	// Index is the 0-based sheet position (nil when not requested).
	Index *int
	// Name is matched case-insensitively against sheet names.
	Name string
}

// IndexSelector returns a selector for the sheet at position i.
func IndexSelector(i int) SheetSelector {
	return SheetSelector{Index: &i}
}

// NameSelector returns a selector for the sheet called name.
func NameSelector(name string) SheetSelector {
	return SheetSelector{Name: name}
}

// SheetRef is a resolved sheet.
type SheetRef struct {
	// Index is the 0-based position in workbook order.
	Index int `json:"index"`
	// Name is the sheet display name.
	Name string `json:"name"`
	// Part is the worksheet part path inside the container (e.g. xl/worksheets/sheet1.xml).
	// It may be empty when the sheet list came from a decoder that hides part names.
	Part string `json:"part,omitempty"`
}
