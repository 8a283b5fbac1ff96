package imagerender

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// ToGray flattens img onto a white background and converts it to an 8-bit
// grayscale raster whose bounds start at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if rgba, ok := img.(*image.RGBA); ok {
		rgbaToGray(gray, rgba)
		return gray
	}
	draw.Draw(gray, gray.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Over)
	return gray
}

// ScaledSize returns the dimensions of a w x h raster resized by factor s.
func ScaledSize(w, h int, s float64) (int, int) {
	return int(math.Round(float64(w) * s)), int(math.Round(float64(h) * s))
}

// Resize returns src resampled to w x h. Enlarging uses Catmull-Rom;
// shrinking uses a bilinear kernel whose support grows with the reduction,
// which averages the source area instead of skipping pixels.
func Resize(src *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	b := src.Bounds()
	if w == b.Dx() && h == b.Dy() {
		copy(dst.Pix, grayPix(src))
		return dst
	}
	var k draw.Interpolator = draw.BiLinear
	if w >= b.Dx() && h >= b.Dy() {
		k = draw.CatmullRom
	}
	k.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Crop copies the r sub-rectangle of src into a new raster anchored at (0,0).
func Crop(src *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(src.Bounds())
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Paste draws src into dst with its top-left corner at at.
func Paste(dst, src *image.Gray, at image.Point) {
	r := image.Rectangle{Min: at, Max: at.Add(src.Bounds().Size())}
	draw.Draw(dst, r, src, src.Bounds().Min, draw.Src)
}

// grayPix returns the tightly packed pixel rows of g.
func grayPix(g *image.Gray) []uint8 {
	b := g.Bounds()
	if g.Stride == b.Dx() && b.Min == (image.Point{}) {
		return g.Pix[:b.Dx()*b.Dy()]
	}
	out := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := g.PixOffset(b.Min.X, y)
		out = append(out, g.Pix[off:off+b.Dx()]...)
	}
	return out
}

// rgbaToGray is the renderer's hot path: premultiplied RGBA composited over
// white, then weighted like color.GrayModel.
func rgbaToGray(dst *image.Gray, src *image.RGBA) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		s := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range d {
			i := x * 4
			bg := 255 - uint32(s[i+3])
			r, g, bl := uint32(s[i])+bg, uint32(s[i+1])+bg, uint32(s[i+2])+bg
			d[x] = uint8((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
		}
	}
}
