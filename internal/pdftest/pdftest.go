// Package pdftest builds small PDF fixtures for tests: one full-page image
// per page, optionally stamped with text so the document reads as digital.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// A4 page size in points; rendering at zoom 1 yields these pixel dimensions.
const (
	PageWidth  = 595
	PageHeight = 842
)

func init() {
	model.ConfigPath = "disable"
}

// Pages builds a PDF with one page per image. Each image is imported as a
// full-page raster so it is both rendered and extractable as embedded image.
func Pages(imgs ...image.Image) ([]byte, error) {
	readers := make([]io.Reader, 0, len(imgs))
	for i, img := range imgs {
		b, err := PNG(img)
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		readers = append(readers, bytes.NewReader(b))
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("import images: %w", err)
	}
	return out.Bytes(), nil
}

// WithText stamps text on every page of pdf.
func WithText(pdf []byte, text string) ([]byte, error) {
	wm, err := api.TextWatermark(text, "rot:0, pos:tl, scale:0.3", true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("text stamp: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(pdf), &out, nil, wm, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("stamp text: %w", err)
	}
	return out.Bytes(), nil
}

// PNG encodes img.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustPNG is PNG for fixtures that cannot fail.
func MustPNG(img image.Image) []byte {
	b, err := PNG(img)
	if err != nil {
		panic(err)
	}
	return b
}

// Blank returns a white w x h raster.
func Blank(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	return g
}

// Checker returns a size x size checkerboard of cells x cells black and white squares.
func Checker(size, cells int) *image.Gray {
	g := Blank(size, size)
	cell := size / cells
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				g.SetGray(x, y, color.Gray{})
			}
		}
	}
	return g
}

// Stripes returns a size x size raster of n alternating vertical bars.
func Stripes(size, n int) *image.Gray {
	g := Blank(size, size)
	bar := size / n
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/bar)%2 == 0 {
				g.SetGray(x, y, color.Gray{})
			}
		}
	}
	return g
}

// Page returns a white A4 raster, with mark pasted at at when mark is non-nil.
func Page(mark *image.Gray, at image.Point) *image.Gray {
	return Sheet(PageWidth, PageHeight, mark, at)
}

// Sheet returns a white w x h raster, with mark pasted at at when mark is non-nil.
func Sheet(w, h int, mark *image.Gray, at image.Point) *image.Gray {
	page := Blank(w, h)
	if mark == nil {
		return page
	}
	b := mark.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			page.SetGray(at.X+x, at.Y+y, mark.GrayAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return page
}
