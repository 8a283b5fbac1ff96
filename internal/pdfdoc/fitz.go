package pdfdoc

import (
	"fmt"
	"image"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/imagerender"
)

// fitzDoc implements Document on top of MuPDF via go-fitz.
type fitzDoc struct {
	doc *fitz.Document
	src *Source
}

func openFitz(src *Source) (*fitzDoc, error) {
	doc, err := fitz.NewFromMemory(src.data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &fitzDoc{doc: doc, src: src}, nil
}

func (d *fitzDoc) NumPage() int { return d.doc.NumPage() }

func (d *fitzDoc) Render(page int, zoom float64) (*image.Gray, error) {
	if page < 0 || page >= d.doc.NumPage() {
		return nil, &PageRenderError{Page: page, Err: ErrPageOutOfRange}
	}
	img, err := d.doc.ImageDPI(page, DPI(zoom))
	if err != nil {
		return nil, &PageRenderError{Page: page, Err: err}
	}
	gray := imagerender.ToGray(img)
	log.Debug().
		Int("page", page).
		Float64("zoom", zoom).
		Int("width", gray.Bounds().Dx()).
		Int("height", gray.Bounds().Dy()).
		Msg("rendered page to grayscale")
	return gray, nil
}

func (d *fitzDoc) EmbeddedImages(page int) ([]*image.Gray, error) {
	if page < 0 || page >= d.doc.NumPage() {
		return nil, fmt.Errorf("embedded images of page %d: %w", page, ErrPageOutOfRange)
	}
	return d.src.embedded(page)
}

func (d *fitzDoc) Text(page int) (string, error) {
	if page < 0 || page >= d.doc.NumPage() {
		return "", fmt.Errorf("text of page %d: %w", page, ErrPageOutOfRange)
	}
	return d.doc.Text(page)
}

func (d *fitzDoc) Close() error { return d.doc.Close() }
