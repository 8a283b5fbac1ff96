package splitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/local/markersplit/internal/extract"
	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/segment"
)

// Kind is the caller-facing failure class of a Split call.
type Kind string

const (
	KindStartNotFound   Kind = "start-not-found"
	KindEndNotFound     Kind = "end-not-found"
	KindMarkerDecode    Kind = "marker-decode-failure"
	KindInvalidRange    Kind = "invalid-range"
	KindInvalidDocument Kind = "invalid-document"
	KindInvalidOptions  Kind = "invalid-options"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

var ErrNotPDF = errors.New("not a PDF document")

// DocumentError reports input bytes that cannot be opened as a PDF.
type DocumentError struct {
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("invalid document: %v", e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// OptionsError reports a tuning value outside its accepted domain.
type OptionsError struct {
	Field string
	Err   error
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("invalid option %s: %v", e.Field, e.Err)
}

func (e *OptionsError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors outside the taxonomy map to KindInternal.
func KindOf(err error) Kind {
	var (
		nf  *segment.NotFoundError
		de  *marker.DecodeError
		re  *extract.RangeError
		doc *DocumentError
		oe  *OptionsError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return KindMarkerDecode
	case errors.As(err, &doc):
		return KindInvalidDocument
	case errors.As(err, &oe):
		return KindInvalidOptions
	case errors.As(err, &nf):
		if nf.Role == marker.End {
			return KindEndNotFound
		}
		return KindStartNotFound
	case errors.As(err, &re):
		return KindInvalidRange
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// IsNotFound reports a boundary marker that was never located.
func IsNotFound(err error) bool {
	var nf *segment.NotFoundError
	return errors.As(err, &nf)
}
