package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

var (
	// ErrMalformedDataURL is returned for anything that is not a base64
	// data URL.
	ErrMalformedDataURL = errors.New("malformed data URL")

	// ErrNotImage is returned when the payload is not an image/* type or
	// cannot be decoded as one.
	ErrNotImage = errors.New("payload is not an image")
)

// maxFileBytes caps files accepted by LoadFile.
const maxFileBytes = 20 << 20

// ParseDataURL splits a "data:<mime>;base64,<payload>" URL into its media
// type and decoded bytes.
func ParseDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: payload must be base64", ErrMalformedDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return strings.ToLower(mediaType), data, nil
}

// DecodeDataURL decodes an image/* data URL, applying EXIF orientation.
func DecodeDataURL(dataURL string) (image.Image, error) {
	mediaType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: media type %q", ErrNotImage, mediaType)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return img, nil
}

// ValidateDataURL reports whether dataURL carries a decodable image.
// Uploads are rejected unless it returns nil.
func ValidateDataURL(dataURL string) error {
	_, err := DecodeDataURL(dataURL)
	return err
}

// EncodeDataURL encodes raw bytes of the given media type as a data URL.
func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// LoadFile reads an image file and returns it as a data URL. The media type
// is sniffed from the content; non-image files are rejected.
func LoadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxFileBytes {
		return "", fmt.Errorf("%s: file too large (%d bytes, max %d)", path, info.Size(), maxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	mediaType := http.DetectContentType(data)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	dataURL := EncodeDataURL(mediaType, data)
	if err := ValidateDataURL(dataURL); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return dataURL, nil
}
