// Package marker decodes the start and end templates of a split request.
package marker

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/heic"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/local/markersplit/internal/filetype"
	"github.com/local/markersplit/internal/imagerender"
)

// Role names which boundary a template marks.
type Role string

const (
	Start Role = "start"
	End   Role = "end"
)

var (
	ErrEmpty     = errors.New("empty marker image")
	ErrEmptySize = errors.New("marker image has no pixels")
	ErrNotImage  = errors.New("not an image")
)

// DecodeError reports an unreadable marker. It is fatal to the request.
type DecodeError struct {
	Role Role
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s marker: %v", e.Role, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Pair holds both decoded templates of one request.
type Pair struct {
	Start *image.Gray
	End   *image.Gray
}

// Decode turns encoded image bytes into a grayscale template. PNG, JPEG,
// GIF, BMP, TIFF, WebP and HEIC/HEIF inputs are accepted; transparency is
// flattened onto white.
func Decode(role Role, data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Role: role, Err: ErrEmpty}
	}
	info := filetype.New().Detect(data)
	if info.Kind == filetype.KindDocument {
		return nil, &DecodeError{Role: role, Err: fmt.Errorf("%w: %s", ErrNotImage, info.MIMEType)}
	}

	var (
		img    image.Image
		format string
		err    error
	)
	if info.IsHEIF() {
		format = "heic"
		img, err = heic.Decode(bytes.NewReader(data))
	} else {
		img, format, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &DecodeError{Role: role, Err: err}
	}
	gray := imagerender.ToGray(img)
	if gray.Bounds().Empty() {
		return nil, &DecodeError{Role: role, Err: ErrEmptySize}
	}
	log.Debug().Str("marker", string(role)).Str("format", format).
		Int("width", gray.Bounds().Dx()).Int("height", gray.Bounds().Dy()).Msg("decoded marker")
	return gray, nil
}

// DecodePair decodes both templates, start first.
func DecodePair(start, end []byte) (Pair, error) {
	s, err := Decode(Start, start)
	if err != nil {
		return Pair{}, err
	}
	e, err := Decode(End, end)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Start: s, End: e}, nil
}
