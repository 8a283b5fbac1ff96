package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/tiff"

	"github.com/local/markersplit/internal/imagerender"
)

func init() {
	// Keep pdfcpu from creating a configuration directory on first use.
	model.ConfigPath = "disable"
}

// PDFCPUConfig returns a relaxed pdfcpu configuration for reading real-world files.
func PDFCPUConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// buildImageIndex extracts every embedded raster image and groups the
// decoded grayscale images by 0-based page. Images that fail to decode are
// skipped; they can only ever mean "no match from this image".
func buildImageIndex(data []byte) (map[int][]*image.Gray, error) {
	index := make(map[int][]*image.Gray)
	skipped := 0
	err := api.ExtractImages(bytes.NewReader(data), nil, func(img model.Image, _ bool, _ int) error {
		decoded, _, err := image.Decode(img)
		if err != nil {
			skipped++
			log.Debug().Err(err).Int("page", img.PageNr).Str("name", img.Name).
				Str("type", img.FileType).Msg("embedded image not decodable; skipped")
			return nil
		}
		page := img.PageNr - 1
		index[page] = append(index[page], imagerender.ToGray(decoded))
		return nil
	}, PDFCPUConfig())
	if err != nil {
		return nil, fmt.Errorf("extract embedded images: %w", err)
	}
	log.Debug().Int("pages_with_images", len(index)).Int("skipped", skipped).Msg("built embedded image index")
	return index, nil
}
