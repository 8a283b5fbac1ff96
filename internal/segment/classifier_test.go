package segment

import (
	"context"
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/local/markersplit/internal/imagerender"
	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/pdfdoc"
	"github.com/local/markersplit/internal/pdftest"
)

func pageWith(mark *image.Gray, scale float64, at image.Point) *image.Gray {
	page := whitePage(200, 260)
	if mark != nil {
		w, h := imagerender.ScaledSize(mark.Bounds().Dx(), mark.Bounds().Dy(), scale)
		imagerender.Paste(page, imagerender.Resize(mark, w, h), at)
	}
	return page
}

var _ = Describe("RasterClassifier", func() {
	var (
		checker *image.Gray
		stripes *image.Gray
		c       *RasterClassifier
	)

	BeforeEach(func() {
		checker = pdftest.Checker(40, 2)
		stripes = pdftest.Stripes(40, 4)
		c = &RasterClassifier{Zoom: 1, Params: match.Params{Threshold: match.DefaultThreshold, Scales: []float64{0.5, 1.0, 2.0}}}
	})

	It("finds a marker printed at a different size", func() {
		noise := noiseMark(40, 4, 11)
		doc := &fakeDoc{pages: []*image.Gray{pageWith(noise, 2.0, image.Pt(30, 50))}}
		res, err := c.Classify(context.Background(), doc, 0, noise)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Matched).To(BeTrue())
		Expect(res.Scale).To(Equal(2.0))
	})

	It("tells the two markers apart", func() {
		doc := &fakeDoc{pages: []*image.Gray{pageWith(checker, 1.0, image.Pt(30, 50))}}
		res, err := c.Classify(context.Background(), doc, 0, stripes)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Matched).To(BeFalse())
	})

	It("passes render failures through", func() {
		doc := &fakeDoc{pages: []*image.Gray{nil}}
		_, err := c.Classify(context.Background(), doc, 0, checker)
		var pre *pdfdoc.PageRenderError
		Expect(errors.As(err, &pre)).To(BeTrue())
	})

	It("names its path", func() {
		Expect(c.Path()).To(Equal(PathRaster))
		Expect((&EmbeddedClassifier{}).Path()).To(Equal(PathEmbedded))
	})
})

var _ = Describe("EmbeddedClassifier", func() {
	var (
		checker *image.Gray
		c       *EmbeddedClassifier
	)

	BeforeEach(func() {
		checker = pdftest.Checker(40, 2)
		c = &EmbeddedClassifier{Threshold: match.DefaultThreshold}
	})

	It("matches when any embedded image carries the marker at native size", func() {
		doc := &fakeDoc{pages: pages(1), embedded: map[int][]*image.Gray{
			0: {whitePage(10, 10), pageWith(checker, 1.0, image.Pt(12, 90))},
		}}
		res, err := c.Classify(context.Background(), doc, 0, checker)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Matched).To(BeTrue())
		Expect(res.At).To(Equal(image.Pt(12, 90)))
	})

	It("does not sweep scales", func() {
		stripes := pdftest.Stripes(40, 4)
		doc := &fakeDoc{pages: pages(1), embedded: map[int][]*image.Gray{
			0: {pageWith(stripes, 2.0, image.Pt(0, 0))},
		}}
		res, err := c.Classify(context.Background(), doc, 0, stripes)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Matched).To(BeFalse())
	})

	It("reports no match for pages without images", func() {
		doc := &fakeDoc{pages: pages(1)}
		res, err := c.Classify(context.Background(), doc, 0, checker)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Matched).To(BeFalse())
	})
})

var _ = Describe("Locator with rendered pages", func() {
	var (
		markers marker.Pair
		l       *Locator
	)

	BeforeEach(func() {
		markers = marker.Pair{Start: pdftest.Checker(40, 2), End: pdftest.Stripes(40, 4)}
		l = &Locator{Classifier: &RasterClassifier{Zoom: 1, Params: match.DefaultParams()}}
	})

	build := func(startPage, endPage int) *fakeOpener {
		ps := make([]*image.Gray, 8)
		for i := range ps {
			switch i {
			case startPage:
				ps[i] = pageWith(markers.Start, 1.2, image.Pt(60, 80))
			case endPage:
				ps[i] = pageWith(markers.End, 0.8, image.Pt(20, 150))
			default:
				ps[i] = pageWith(nil, 0, image.Point{})
			}
		}
		return &fakeOpener{pages: ps}
	}

	It("locates markers on pages 3 and 7", func() {
		for _, parallel := range []bool{false, true} {
			l.Parallel = parallel
			r, err := l.Locate(context.Background(), build(2, 6), markers)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(Range{Start: 2, End: 6}))
			Expect(r.Len()).To(Equal(5))
		}
	})

	It("reports end-not-found when the end marker only precedes the start", func() {
		for _, parallel := range []bool{false, true} {
			l.Parallel = parallel
			_, err := l.Locate(context.Background(), build(4, 1), markers)
			var nf *NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
			Expect(nf.Role).To(Equal(marker.End))
		}
	})

	It("reports start-not-found when neither marker is present", func() {
		_, err := l.Locate(context.Background(), build(-1, -1), markers)
		var nf *NotFoundError
		Expect(errors.As(err, &nf)).To(BeTrue())
		Expect(nf.Role).To(Equal(marker.Start))
	})
})
