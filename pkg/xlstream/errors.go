package xlstream

import (
	"errors"
	"fmt"

	"github.com/ukaji3/xlstream-go/pkg/xlstream/assembler"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/sst"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/writer"
)

// ErrFileNotFound indicates the input file does not exist.
var ErrFileNotFound = errors.New("file not found")

// ErrInvalidRequest indicates a request that failed validation.
var ErrInvalidRequest = errors.New("invalid request")

// Failures raised by the conversion stages, for use with errors.Is.
var (
	ErrSheetNotFound          = container.ErrSheetNotFound
	ErrSheetIndexOutOfRange   = container.ErrSheetIndexOutOfRange
	ErrPartNotFound           = container.ErrPartNotFound
	ErrZipBombSuspected       = container.ErrZipBombSuspected
	ErrEntryTooLarge          = container.ErrEntryTooLarge
	ErrInflationRatioExceeded = container.ErrInflationRatioExceeded
	ErrStringTableMissing     = sst.ErrStringTableMissing
	ErrIndexOutOfRange        = sst.ErrIndexOutOfRange
	ErrDestinationExists      = writer.ErrDestinationExists
)

// RowError is a failure confined to one row.
type RowError = assembler.RowError

// Conversion stages reported by ConversionError.
const (
	StageValidate = "validate"
	StageInspect  = "inspect"
	StageResolve  = "resolve"
	StageOutput   = "output"
	StageStream   = "stream"
	StageFinalize = "finalize"
)

// ConversionError represents a fatal error during a conversion.
type ConversionError struct {
	Input string
	Stage string // one of the Stage constants
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %q failed (%s): %v", e.Input, e.Stage, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NewConversionError creates a new ConversionError.
func NewConversionError(input, stage string, err error) *ConversionError {
	return &ConversionError{
		Input: input,
		Stage: stage,
		Err:   err,
	}
}
