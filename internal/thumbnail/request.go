// Package thumbnail holds the thumbnail use case: the request model, the
// accepted media types, and the Service that turns a request into JPEG bytes
// through the codec.
package thumbnail

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/maauso/thumbnail-api/internal/codec"
)

// MaxDimension is the largest accepted width or height.
const MaxDimension = 4096

// Client errors. These are reported without invoking the codec.
var (
	// ErrNoFile is returned when the request carries no file payload.
	ErrNoFile = errors.New("no file provided")
	// ErrUnsupportedType is returned when the declared MIME type is not accepted.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrInvalidDimensions is returned when width or height is out of range.
	ErrInvalidDimensions = errors.New("invalid dimensions")
)

var supportedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/avi",
	"video/mov",
	"video/wmv",
	"video/flv",
	"video/webm",
}

// SupportedTypes returns the accepted MIME types.
func SupportedTypes() []string {
	return slices.Clone(supportedTypes)
}

// IsSupported reports whether mimeType is accepted.
func IsSupported(mimeType string) bool {
	return slices.Contains(supportedTypes, normalizeType(mimeType))
}

// IsVideo reports whether mimeType declares a video.
func IsVideo(mimeType string) bool {
	return strings.HasPrefix(normalizeType(mimeType), "video/")
}

// KindOf maps a declared MIME type to the codec extraction path.
func KindOf(mimeType string) codec.Kind {
	if IsVideo(mimeType) {
		return codec.KindVideo
	}
	return codec.KindImage
}

// normalizeType drops parameters and case from a MIME type.
func normalizeType(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// ResolveDimension parses a form value. Absent, non-numeric and
// non-positive values resolve to def.
func ResolveDimension(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Request is one uploaded file to thumbnail.
type Request struct {
	// Filename is the original upload name.
	Filename string
	// MIMEType is the declared content type of the upload.
	MIMEType string
	// Data is the file content.
	Data []byte
	// Width is the target width in pixels.
	Width int `validate:"min=1,max=4096"`
	// Height is the target height in pixels.
	Height int `validate:"min=1,max=4096"`
}

// Result is a generated thumbnail.
type Result struct {
	// JPEG is the encoded thumbnail.
	JPEG []byte
	// Width and Height are the dimensions of the thumbnail.
	Width  int
	Height int
}

// Filename suggests a download name embedding the dimensions.
func (r *Result) Filename() string {
	return fmt.Sprintf("thumbnail_%dx%d.jpg", r.Width, r.Height)
}

// ProcessingError wraps any failure of the codec invocation.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return "failed to generate thumbnail: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
