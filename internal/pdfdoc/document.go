// Package pdfdoc exposes a PDF as a page-addressable document: pages can be
// rasterized to grayscale at a zoom factor, and the raster images embedded
// in a page can be enumerated without rendering it.
package pdfdoc

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// PointsPerInch is the PDF user-space resolution; zoom 1 renders one pixel per point.
const PointsPerInch = 72.0

// ErrPageOutOfRange is wrapped by PageRenderError for indices outside the document.
var ErrPageOutOfRange = errors.New("page out of range")

// PageRenderError reports that a single page could not be rasterized.
// Callers treat the page as non-matching and keep scanning.
type PageRenderError struct {
	Page int
	Err  error
}

func (e *PageRenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *PageRenderError) Unwrap() error { return e.Err }

// Document is one opened handle on a PDF. Handles are not shared between
// goroutines; open one per worker.
type Document interface {
	NumPage() int
	// Render rasterizes a 0-based page to grayscale at the given zoom.
	Render(page int, zoom float64) (*image.Gray, error)
	// EmbeddedImages returns the decoded raster images stored on a page.
	EmbeddedImages(page int) ([]*image.Gray, error)
	// Text returns the extractable text of a page.
	Text(page int) (string, error)
	Close() error
}

// Opener produces independent Document handles over the same bytes.
type Opener interface {
	Open() (Document, error)
}

// DPI converts a zoom factor to the renderer's resolution.
func DPI(zoom float64) float64 {
	if zoom <= 0 {
		zoom = 1
	}
	return PointsPerInch * zoom
}

// Source holds the raw bytes of a PDF for the duration of one call. The bytes
// and the embedded-image index built from them are read-only once created and
// safe to share; every Open returns a fresh renderer handle.
type Source struct {
	data []byte

	once     sync.Once
	index    map[int][]*image.Gray
	indexErr error
}

// NewSource wraps raw PDF bytes.
func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// Bytes returns the raw document bytes.
func (s *Source) Bytes() []byte { return s.data }

// Open returns a new go-fitz backed handle.
func (s *Source) Open() (Document, error) {
	return openFitz(s)
}

// embedded returns the images on a 0-based page, building the index for the
// whole document on first use.
func (s *Source) embedded(page int) ([]*image.Gray, error) {
	s.once.Do(func() {
		s.index, s.indexErr = buildImageIndex(s.data)
	})
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	return s.index[page], nil
}
