package pdfdoc

import (
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/local/markersplit/internal/pdftest"
)

var _ = Describe("Source", func() {
	var (
		checker *image.Gray
		src     *Source
		doc     Document
	)

	BeforeEach(func() {
		checker = pdftest.Checker(120, 2)
		data, err := pdftest.Pages(
			pdftest.Page(nil, image.Point{}),
			pdftest.Page(checker, image.Pt(200, 300)),
			pdftest.Page(nil, image.Point{}),
		)
		Expect(err).NotTo(HaveOccurred())
		src = NewSource(data)
		doc, err = src.Open()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(doc.Close)
	})

	It("reports the page count", func() {
		Expect(doc.NumPage()).To(Equal(3))
	})

	It("renders a page at the requested zoom", func() {
		img, err := doc.Render(1, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(BeNumerically("~", pdftest.PageWidth, 2))
		Expect(img.Bounds().Dy()).To(BeNumerically("~", pdftest.PageHeight, 2))

		big, err := doc.Render(1, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(big.Bounds().Dx()).To(BeNumerically("~", 2*pdftest.PageWidth, 3))
	})

	It("fails out-of-range renders with a PageRenderError", func() {
		_, err := doc.Render(7, 1)
		var pre *PageRenderError
		Expect(errors.As(err, &pre)).To(BeTrue())
		Expect(pre.Page).To(Equal(7))
		Expect(errors.Is(err, ErrPageOutOfRange)).To(BeTrue())

		_, err = doc.Render(-1, 1)
		Expect(errors.As(err, &pre)).To(BeTrue())
	})

	It("enumerates embedded page images", func() {
		imgs, err := doc.EmbeddedImages(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(imgs).To(HaveLen(1))
		Expect(imgs[0].Bounds().Dx()).To(Equal(pdftest.PageWidth))
		Expect(imgs[0].GrayAt(200, 300).Y).To(Equal(uint8(0)))

		_, err = doc.EmbeddedImages(3)
		Expect(errors.Is(err, ErrPageOutOfRange)).To(BeTrue())
	})

	It("shares the embedded index between handles", func() {
		other, err := src.Open()
		Expect(err).NotTo(HaveOccurred())
		defer other.Close()

		a, err := doc.EmbeddedImages(1)
		Expect(err).NotTo(HaveOccurred())
		b, err := other.EmbeddedImages(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(b[0]).To(BeIdenticalTo(a[0]))
	})

	It("rejects bytes that are not a PDF", func() {
		_, err := NewSource([]byte("not a pdf")).Open()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("DPI", func() {
	It("maps zoom to resolution", func() {
		Expect(DPI(1)).To(Equal(72.0))
		Expect(DPI(2)).To(Equal(144.0))
		Expect(DPI(0)).To(Equal(72.0))
	})
})
