package match

import (
	"context"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/imagerender"
)

// Result is the outcome of matching one template against one raster.
// Score is the qualifying score when Matched, otherwise the best score seen.
type Result struct {
	Matched bool
	Scale   float64
	Score   float64
	At      image.Point
}

// ScaleSpace sweeps p.Scales in ascending order, whatever order they were
// given in, resizing tmpl and correlating it against page. The first scale whose best score reaches p.Threshold wins
// and the sweep stops there; later scales are never tried. Scales that
// collapse the template to nothing or make it larger than the page are
// skipped.
func ScaleSpace(ctx context.Context, page, tmpl *image.Gray, p Params) (Result, error) {
	p = p.WithDefaults()
	c := NewCorrelator(page)
	pw, ph := c.Size()
	tb := tmpl.Bounds()

	var best Result
	for _, s := range p.Scales {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		w, h := imagerender.ScaledSize(tb.Dx(), tb.Dy(), s)
		if w <= 0 || h <= 0 || w > pw || h > ph {
			log.Debug().Float64("scale", s).Int("tmpl_w", w).Int("tmpl_h", h).
				Int("page_w", pw).Int("page_h", ph).Msg("scale skipped")
			continue
		}
		score, at := c.Max(imagerender.Resize(tmpl, w, h))
		if score >= p.Threshold {
			return Result{Matched: true, Scale: s, Score: score, At: at}, nil
		}
		if score > best.Score {
			best = Result{Scale: s, Score: score, At: at}
		}
	}
	return best, nil
}

// Native correlates tmpl against img at its literal size only.
func Native(img, tmpl *image.Gray, threshold float64) Result {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	score, at := NewCorrelator(img).Max(tmpl)
	return Result{Matched: score >= threshold, Scale: 1, Score: score, At: at}
}
