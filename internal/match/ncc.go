package match

import (
	"image"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/local/markersplit/internal/imagerender"
)

// varianceEpsilon guards against flat windows, whose NCC is undefined.
const varianceEpsilon = 1e-6

// Correlator computes zero-mean normalized cross-correlation
// (TM_CCOEFF_NORMED) of templates against one fixed image. Window sums come
// from integral images; the cross term is summed directly for small
// templates and through a cached 2-D FFT of the image otherwise.
//
// A Correlator is not safe for concurrent use.
type Correlator struct {
	img  *image.Gray
	w, h int
	sum  []int64 // (w+1)*(h+1) integral of I
	sq   []int64 // (w+1)*(h+1) integral of I^2
	spec *spectrum
}

// NewCorrelator prepares img for repeated correlation.
func NewCorrelator(img *image.Gray) *Correlator {
	img = imagerender.ToGray(img)
	b := img.Bounds()
	c := &Correlator{img: img, w: b.Dx(), h: b.Dy()}
	c.integrate()
	return c
}

// Size returns the image dimensions.
func (c *Correlator) Size() (int, int) { return c.w, c.h }

func (c *Correlator) integrate() {
	stride := c.w + 1
	c.sum = make([]int64, stride*(c.h+1))
	c.sq = make([]int64, stride*(c.h+1))
	for y := 0; y < c.h; y++ {
		var rowSum, rowSq int64
		row := c.img.Pix[y*c.img.Stride : y*c.img.Stride+c.w]
		for x, p := range row {
			v := int64(p)
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			c.sum[i] = c.sum[i-stride] + rowSum
			c.sq[i] = c.sq[i-stride] + rowSq
		}
	}
}

func (c *Correlator) window(tab []int64, x, y, w, h int) int64 {
	stride := c.w + 1
	return tab[(y+h)*stride+x+w] - tab[y*stride+x+w] - tab[(y+h)*stride+x] + tab[y*stride+x]
}

// Max returns the highest NCC score of tmpl over every placement fully
// inside the image, together with that placement. A template larger than
// the image, or one with no contrast, scores 0.
func (c *Correlator) Max(tmpl *image.Gray) (float64, image.Point) {
	tmpl = imagerender.ToGray(tmpl)
	tb := tmpl.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	if tw == 0 || th == 0 || tw > c.w || th > c.h {
		return 0, image.Point{}
	}

	n := float64(tw * th)
	zm := make([]float64, tw*th)
	var mean float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			v := float64(tmpl.Pix[y*tmpl.Stride+x])
			zm[y*tw+x] = v
			mean += v
		}
	}
	mean /= n
	var tVar float64
	for i := range zm {
		zm[i] -= mean
		tVar += zm[i] * zm[i]
	}
	if tVar < varianceEpsilon {
		return 0, image.Point{}
	}

	outW, outH := c.w-tw+1, c.h-th+1
	var cross func(x, y int) float64
	if c.preferDirect(outW, outH, tw, th) {
		cross = func(x, y int) float64 { return c.directCross(zm, tw, th, x, y) }
	} else {
		corr := c.fftCross(zm, tw, th)
		pw := c.spec.pw
		cross = func(x, y int) float64 { return corr[y*pw+x] }
	}

	best, at := math.Inf(-1), image.Point{}
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			s := float64(c.window(c.sum, x, y, tw, th))
			s2 := float64(c.window(c.sq, x, y, tw, th))
			iVar := s2 - s*s/n
			score := 0.0
			if iVar > varianceEpsilon {
				score = cross(x, y) / math.Sqrt(tVar*iVar)
			}
			if score > best {
				best, at = score, image.Point{X: x, Y: y}
			}
		}
	}
	return clamp(best), at
}

// preferDirect compares the operation count of the direct sum with three
// padded 2-D transforms.
func (c *Correlator) preferDirect(outW, outH, tw, th int) bool {
	direct := float64(outW*outH) * float64(tw*th)
	pw, ph := nextPow2(c.w), nextPow2(c.h)
	size := float64(pw * ph)
	return direct <= 15*size*math.Log2(size)
}

func (c *Correlator) directCross(zm []float64, tw, th, x, y int) float64 {
	var acc float64
	for j := 0; j < th; j++ {
		row := c.img.Pix[(y+j)*c.img.Stride+x : (y+j)*c.img.Stride+x+tw]
		t := zm[j*tw : (j+1)*tw]
		for i, p := range row {
			acc += t[i] * float64(p)
		}
	}
	return acc
}

// fftCross returns the circular cross-correlation of the image with the
// zero-mean template laid out on the padded grid. Padding to at least the
// image size is enough: valid placements never wrap.
func (c *Correlator) fftCross(zm []float64, tw, th int) []float64 {
	if c.spec == nil {
		c.spec = newSpectrum(c.img, c.w, c.h)
	}
	s := c.spec
	buf := make([]complex128, s.pw*s.ph)
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			buf[y*s.pw+x] = complex(zm[y*tw+x], 0)
		}
	}
	s.forward(buf)
	for i := range buf {
		buf[i] = s.img[i] * cmplx.Conj(buf[i])
	}
	s.inverse(buf)
	out := make([]float64, len(buf))
	for i, v := range buf {
		out[i] = real(v)
	}
	return out
}

type spectrum struct {
	pw, ph     int
	rows, cols *fourier.CmplxFFT
	norm       float64
	img        []complex128
}

func newSpectrum(img *image.Gray, w, h int) *spectrum {
	s := &spectrum{pw: nextPow2(w), ph: nextPow2(h)}
	s.rows = fourier.NewCmplxFFT(s.pw)
	s.cols = fourier.NewCmplxFFT(s.ph)
	s.norm = inverseScale(s.rows) * inverseScale(s.cols)
	s.img = make([]complex128, s.pw*s.ph)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s.img[y*s.pw+x] = complex(float64(img.Pix[y*img.Stride+x]), 0)
		}
	}
	s.forward(s.img)
	return s
}

// inverseScale measures the factor that makes Sequence the exact inverse of
// Coefficients for t's length.
func inverseScale(t *fourier.CmplxFFT) float64 {
	impulse := make([]complex128, t.Len())
	impulse[0] = 1
	round := t.Sequence(nil, t.Coefficients(nil, impulse))
	return 1 / real(round[0])
}

func (s *spectrum) forward(buf []complex128) { s.apply(buf, false) }

func (s *spectrum) inverse(buf []complex128) {
	s.apply(buf, true)
	for i := range buf {
		buf[i] *= complex(s.norm, 0)
	}
}

func (s *spectrum) apply(buf []complex128, inverse bool) {
	for y := 0; y < s.ph; y++ {
		row := buf[y*s.pw : (y+1)*s.pw]
		if inverse {
			s.rows.Sequence(row, row)
		} else {
			s.rows.Coefficients(row, row)
		}
	}
	col := make([]complex128, s.ph)
	for x := 0; x < s.pw; x++ {
		for y := 0; y < s.ph; y++ {
			col[y] = buf[y*s.pw+x]
		}
		if inverse {
			s.cols.Sequence(col, col)
		} else {
			s.cols.Coefficients(col, col)
		}
		for y := 0; y < s.ph; y++ {
			buf[y*s.pw+x] = col[y]
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func clamp(v float64) float64 {
	switch {
	case math.IsInf(v, -1) || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
