package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind groups the inputs the splitter understands.
type Kind string

const (
	KindDocument    Kind = "document"
	KindImage       Kind = "image"
	KindUnsupported Kind = "unsupported"
)

// PDF is the only document format the splitter opens.
const PDF = "application/pdf"

// Info contains detected file type information
type Info struct {
	MIMEType    string
	Extension   string
	Kind        Kind
	Description string
}

// Supported reports whether the splitter can consume the input.
func (i *Info) Supported() bool { return i.Kind != KindUnsupported }

// IsHEIF reports HEIC/HEIF containers, which the standard decoders do not handle.
func (i *Info) IsHEIF() bool {
	return strings.HasPrefix(i.MIMEType, "image/heic") || strings.HasPrefix(i.MIMEType, "image/heif")
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect sniffs data by magic bytes; names and declared content types are ignored.
func (d *Detector) Detect(data []byte) *Info {
	mtype := mimetype.Detect(data)
	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	d.classify(info)
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("kind", string(info.Kind)).Msg("detected file type")
	return info
}

// classify determines how the input can be used
func (d *Detector) classify(info *Info) {
	mimeType := info.MIMEType

	switch {
	case mimeType == PDF:
		info.Kind = KindDocument
		info.Description = "PDF document"

	case info.IsHEIF():
		info.Kind = KindImage
		info.Description = "HEIF image"

	case strings.HasPrefix(mimeType, "image/"):
		info.Kind = KindImage
		info.Description = "Image file"

	default:
		info.Kind = KindUnsupported
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}

// IsPDF reports whether data carries a PDF signature.
func (d *Detector) IsPDF(data []byte) bool {
	return d.Detect(data).MIMEType == PDF
}
