package splitter

import (
	"context"
	"errors"
	"image"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/local/markersplit/internal/extract"
	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/pdftest"
	"github.com/local/markersplit/internal/segment"
)

var _ = Describe("Engine", func() {
	var (
		engine   *Engine
		ctx      context.Context
		startPNG []byte
		endPNG   []byte
		opts     Options
	)

	BeforeEach(func() {
		engine = New()
		ctx = context.Background()
		startPNG = pdftest.MustPNG(startMark)
		endPNG = pdftest.MustPNG(endMark)
		opts = Options{}
	})

	Context("with a scanned document", func() {
		var doc []byte

		BeforeEach(func() {
			doc = document(9, map[int]*image.Gray{2: startMark, 6: endMark}, false)
		})

		It("extracts pages 3 through 7 by rasterizing", func() {
			res, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Range).To(Equal(segment.Range{Start: 2, End: 6}))
			Expect(res.Path).To(Equal(segment.PathRaster))
			Expect(res.Digital).To(BeFalse())
			Expect(res.Pages).To(Equal(5))
			Expect(extract.PageCount(res.PDF)).To(Equal(5))
		})

		It("returns the same range in parallel", func() {
			for _, workers := range []int{1, 2, 8} {
				opts.Parallel = Bool(true)
				opts.Workers = workers
				res, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Range).To(Equal(segment.Range{Start: 2, End: 6}))
			}
		})
	})

	Context("with a digital document", func() {
		It("finds the markers among embedded images", func() {
			doc := document(6, map[int]*image.Gray{1: startMark, 4: endMark}, true)
			res, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Digital).To(BeTrue())
			Expect(res.Path).To(Equal(segment.PathEmbedded))
			Expect(res.Range).To(Equal(segment.Range{Start: 1, End: 4}))
		})

		It("falls back to rasterizing when the embedded pass misses", func() {
			doc := document(6, map[int]*image.Gray{1: startMark, 4: endMark}, true)
			// Half-size end template: no native-size match, found by the sweep.
			small := pdftest.MustPNG(pdftest.Stripes(32, 4))
			opts.Zoom = 1
			opts.Scales = []float64{1.0, 2.0}
			res, err := engine.Split(ctx, doc, startPNG, small, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(segment.PathRaster))
			Expect(res.Range).To(Equal(segment.Range{Start: 1, End: 4}))
		})

		It("skips the embedded pass when disabled", func() {
			doc := document(3, map[int]*image.Gray{0: startMark, 2: endMark}, true)
			opts.DisableFastPath = Bool(true)
			res, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(segment.PathRaster))
		})
	})

	Context("when markers are missing", func() {
		It("reports start-not-found and produces no document", func() {
			doc := document(4, nil, false)
			res, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
			Expect(res).To(BeNil())
			Expect(KindOf(err)).To(Equal(KindStartNotFound))
			Expect(IsNotFound(err)).To(BeTrue())
		})

		It("reports end-not-found when the end marker precedes the start", func() {
			doc := document(7, map[int]*image.Gray{5: startMark, 2: endMark}, false)
			_, err := engine.Split(ctx, doc, startPNG, endPNG, opts)
			Expect(KindOf(err)).To(Equal(KindEndNotFound))
		})
	})

	It("rejects input that is not a PDF before decoding markers", func() {
		_, err := engine.Split(ctx, []byte("plain text"), nil, nil, opts)
		var de *DocumentError
		Expect(errors.As(err, &de)).To(BeTrue())
		Expect(errors.Is(err, ErrNotPDF)).To(BeTrue())
		Expect(KindOf(err)).To(Equal(KindInvalidDocument))
	})

	It("fails on an undecodable marker before touching pages", func() {
		doc := document(2, nil, false)
		_, err := engine.Split(ctx, doc, startPNG, []byte("nope"), opts)
		var de *marker.DecodeError
		Expect(errors.As(err, &de)).To(BeTrue())
		Expect(de.Role).To(Equal(marker.End))
		Expect(KindOf(err)).To(Equal(KindMarkerDecode))
	})

	It("honours cancellation", func() {
		doc := document(3, map[int]*image.Gray{0: startMark, 2: endMark}, false)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := engine.Split(cctx, doc, startPNG, endPNG, opts)
		Expect(KindOf(err)).To(Equal(KindCancelled))
	})

	It("honours cancellation when scanning in parallel", func() {
		doc := document(3, map[int]*image.Gray{0: startMark, 2: endMark}, false)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		opts.Parallel = Bool(true)
		opts.Workers = 2
		res, err := engine.Split(cctx, doc, startPNG, endPNG, opts)
		Expect(res).To(BeNil())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(KindOf(err)).To(Equal(KindCancelled))
	})
})

var _ = Describe("KindOf", func() {
	It("maps the taxonomy", func() {
		Expect(KindOf(nil)).To(BeEmpty())
		Expect(KindOf(&segment.NotFoundError{Role: marker.Start})).To(Equal(KindStartNotFound))
		Expect(KindOf(&extract.RangeError{Err: extract.ErrNoRange})).To(Equal(KindInvalidRange))
		Expect(KindOf(errors.New("disk on fire"))).To(Equal(KindInternal))
	})
})

var _ = Describe("Options", func() {
	It("fills defaults", func() {
		o := DefaultOptions()
		Expect(o.Threshold).To(Equal(0.7))
		Expect(o.Zoom).To(Equal(ZoomFast))
		Expect(o.Workers).To(BeNumerically(">", 0))
		Expect(o.params().Scales).To(HaveLen(12))
	})

	It("prefers explicit scales over the profile", func() {
		o := Options{Profile: "thorough", Scales: []float64{1}}.WithDefaults()
		Expect(o.params().Scales).To(Equal([]float64{1}))
		Expect(Options{Profile: "thorough"}.WithDefaults().params().Scales).To(HaveLen(28))
	})
})

var _ = Describe("Options.Merge", func() {
	It("keeps explicit values and fills the rest from base", func() {
		base := Options{Threshold: 0.8, Profile: match.ProfileThorough, Zoom: ZoomHighFidelity, Workers: 3, Parallel: Bool(true)}
		got := Options{Threshold: 0.9}.Merge(base)
		Expect(got.Threshold).To(Equal(0.9))
		Expect(got.Profile).To(Equal(match.ProfileThorough))
		Expect(got.Zoom).To(Equal(ZoomHighFidelity))
		Expect(got.Workers).To(Equal(3))
		Expect(got.ParallelScan()).To(BeTrue())
		Expect(got.FastPathDisabled()).To(BeFalse())
	})

	It("lets an explicit false override an enabled base", func() {
		base := Options{Parallel: Bool(true), DisableFastPath: Bool(true)}
		got := Options{Parallel: Bool(false), DisableFastPath: Bool(false)}.Merge(base)
		Expect(got.ParallelScan()).To(BeFalse())
		Expect(got.FastPathDisabled()).To(BeFalse())
	})
})

var _ = Describe("Options.Validate", func() {
	It("accepts the zero value and the defaults", func() {
		Expect(Options{}.Validate()).To(Succeed())
		Expect(DefaultOptions().Validate()).To(Succeed())
		Expect(Options{Threshold: -1, Scales: []float64{2, 0.5}}.Validate()).To(Succeed())
	})

	DescribeTable("rejects values outside their domain",
		func(o Options, field string) {
			err := o.Validate()
			var oe *OptionsError
			Expect(errors.As(err, &oe)).To(BeTrue())
			Expect(oe.Field).To(Equal(field))
			Expect(KindOf(err)).To(Equal(KindInvalidOptions))
		},
		Entry("NaN threshold", Options{Threshold: math.NaN()}, "threshold"),
		Entry("threshold above 1", Options{Threshold: 1.5}, "threshold"),
		Entry("NaN zoom", Options{Zoom: math.NaN()}, "zoom"),
		Entry("negative zoom", Options{Zoom: -2}, "zoom"),
		Entry("unknown profile", Options{Profile: "wide"}, "profile"),
		Entry("non-positive scale", Options{Scales: []float64{1, 0}}, "scales"),
		Entry("NaN scale", Options{Scales: []float64{math.NaN()}}, "scales"),
		Entry("negative workers", Options{Workers: -1}, "workers"),
	)

	It("sweeps explicit scales in ascending order", func() {
		Expect(Options{Scales: []float64{1.5, 0.5, 1.0}}.WithDefaults().params().Scales).To(Equal([]float64{0.5, 1.0, 1.5}))
	})

	It("fails a split with invalid options before reading the inputs", func() {
		res, err := New().Split(context.Background(), nil, nil, nil, Options{Threshold: math.NaN()})
		Expect(res).To(BeNil())
		Expect(KindOf(err)).To(Equal(KindInvalidOptions))
	})
})
