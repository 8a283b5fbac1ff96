package segment

import (
	"context"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/pdfdoc"
)

// Path names a classification strategy.
type Path string

const (
	PathEmbedded Path = "embedded"
	PathRaster   Path = "raster"
)

// Classifier decides whether a template appears on one page. An error means
// the page could not be inspected; callers count it as no match.
type Classifier interface {
	Path() Path
	Classify(ctx context.Context, doc pdfdoc.Document, page int, tmpl *image.Gray) (match.Result, error)
}

// RasterClassifier renders the page and sweeps the template over scales.
type RasterClassifier struct {
	Zoom   float64
	Params match.Params
}

func (c *RasterClassifier) Path() Path { return PathRaster }

func (c *RasterClassifier) Classify(ctx context.Context, doc pdfdoc.Document, page int, tmpl *image.Gray) (match.Result, error) {
	raster, err := doc.Render(page, c.Zoom)
	if err != nil {
		return match.Result{}, err
	}
	return match.ScaleSpace(ctx, raster, tmpl, c.Params)
}

// EmbeddedClassifier matches the template at native size against the images
// stored on the page. The first matching image wins.
type EmbeddedClassifier struct {
	Threshold float64
}

func (c *EmbeddedClassifier) Path() Path { return PathEmbedded }

func (c *EmbeddedClassifier) Classify(ctx context.Context, doc pdfdoc.Document, page int, tmpl *image.Gray) (match.Result, error) {
	imgs, err := doc.EmbeddedImages(page)
	if err != nil {
		return match.Result{}, err
	}
	var best match.Result
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			return match.Result{}, err
		}
		res := match.Native(img, tmpl, c.Threshold)
		if res.Matched {
			log.Debug().Int("page", page).Int("image", i).Float64("score", res.Score).Msg("embedded image matched")
			return res, nil
		}
		if res.Score > best.Score {
			best = res
		}
	}
	return best, nil
}
