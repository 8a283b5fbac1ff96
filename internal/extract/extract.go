// Package extract writes the located page range out as a new PDF.
package extract

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/pdfdoc"
	"github.com/local/markersplit/internal/segment"
)

var ErrNoRange = errors.New("no boundary range")

// RangeError reports a range that cannot be extracted: absent, inverted or
// outside the document. No default range is ever substituted.
type RangeError struct {
	Range *segment.Range
	Pages int
	Err   error
}

func (e *RangeError) Error() string {
	if e.Range == nil {
		return fmt.Sprintf("invalid range: %v", e.Err)
	}
	return fmt.Sprintf("invalid range %d..%d of %d pages: %v", e.Range.Start, e.Range.End, e.Pages, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }

// Pages returns a new PDF holding exactly the pages r.Start..r.End
// (0-based, inclusive) of doc, in their original order.
func Pages(doc []byte, r *segment.Range) ([]byte, error) {
	if r == nil {
		return nil, &RangeError{Err: ErrNoRange}
	}
	if !r.Valid() {
		return nil, &RangeError{Range: r, Err: errors.New("end precedes start")}
	}
	conf := pdfdoc.PDFCPUConfig()
	total, err := api.PageCount(bytes.NewReader(doc), conf)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	if r.End >= total {
		return nil, &RangeError{Range: r, Pages: total, Err: pdfdoc.ErrPageOutOfRange}
	}

	// pdfcpu page selections are 1-based.
	sel := fmt.Sprintf("%d-%d", r.Start+1, r.End+1)
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(doc), &out, []string{sel}, conf); err != nil {
		return nil, fmt.Errorf("trim pages %s: %w", sel, err)
	}
	log.Debug().Str("pages", sel).Int("source_pages", total).Int("bytes", out.Len()).Msg("extracted page range")
	return out.Bytes(), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(doc []byte) (int, error) {
	return api.PageCount(bytes.NewReader(doc), pdfdoc.PDFCPUConfig())
}
