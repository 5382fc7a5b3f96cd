package container

import "errors"

// ErrPartNotFound indicates the requested part does not exist in the container.
var ErrPartNotFound = errors.New("part not found")

// ErrZipBombSuspected indicates a part decompresses with an excessive ratio or
// beyond the configured size. Metadata readers switch to the Extractor on it.
var ErrZipBombSuspected = errors.New("zip bomb suspected")

// ErrEntryTooLarge indicates the Extractor refused an entry above its size cap.
var ErrEntryTooLarge = errors.New("entry exceeds maximum extraction size")

// ErrInflationRatioExceeded indicates the Extractor refused an entry whose
// inflation ratio crossed its cap.
var ErrInflationRatioExceeded = errors.New("entry inflation ratio exceeded")

// ErrSheetNotFound indicates no sheet matches the requested name, or the
// workbook has no sheets.
var ErrSheetNotFound = errors.New("sheet not found")

// ErrSheetIndexOutOfRange indicates the requested sheet index is outside the
// workbook sheet list.
var ErrSheetIndexOutOfRange = errors.New("sheet index out of range")
