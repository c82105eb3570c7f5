// Package render produces the view frames shown during an active session.
//
// Frames are a visual deterrent only. The interlock blurs and desaturates
// the picture while the viewer is out of focus, and every frame carries the
// watermark label, but a frame that reached the client can always be copied.
package render

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/roach88/snapguard/internal/ir"
)

// Watermark is stamped on every frame.
const Watermark = "SnapGuard Private View"

// InterlockNotice accompanies an interlocked frame.
const InterlockNotice = "Security Interlock Engaged"

// The picture is fitted into this share of the viewport.
const (
	WidthShare  = 0.9
	HeightShare = 0.7
)

// DefaultBlurSigma is the Gaussian blur applied while interlocked.
const DefaultBlurSigma = 20.0

// DefaultViewport is assumed when the client does not report its size.
var DefaultViewport = Viewport{Width: 1280, Height: 800}

// Viewport is the viewer's visible area in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bounds returns the maximum picture size for v.
func (v Viewport) Bounds() (int, int) {
	if v.Width <= 0 || v.Height <= 0 {
		v = DefaultViewport
	}
	w := int(float64(v.Width) * WidthShare)
	h := int(float64(v.Height) * HeightShare)
	return max(w, 1), max(h, 1)
}

// Frame is one rendered view of a record.
type Frame struct {
	ImageID     string `json:"imageId"`
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interlocked bool   `json:"interlocked"`
	Watermark   string `json:"watermark"`
	Notice      string `json:"notice,omitempty"`
	DataURL     string `json:"dataUrl"`
}

// Renderer turns record payloads into frames.
//
// Thread-safety: Renderer is immutable and safe for concurrent use.
type Renderer struct {
	blurSigma float64
	format    imaging.Format
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithBlurSigma sets the interlock blur strength.
func WithBlurSigma(sigma float64) Option {
	return func(r *Renderer) {
		if sigma > 0 {
			r.blurSigma = sigma
		}
	}
}

// WithJPEG encodes frames as JPEG instead of PNG.
func WithJPEG() Option {
	return func(r *Renderer) {
		r.format = imaging.JPEG
	}
}

// New creates a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{blurSigma: DefaultBlurSigma, format: imaging.PNG}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render decodes the record payload, fits it into vp and, when interlocked,
// blurs and desaturates it.
func (r *Renderer) Render(rec ir.ImageRecord, interlocked bool, vp Viewport) (Frame, error) {
	src, err := DecodeDataURL(rec.DataURL)
	if err != nil {
		return Frame{}, fmt.Errorf("render %s: %w", rec.ID, err)
	}

	maxW, maxH := vp.Bounds()
	img := image.Image(imaging.Fit(src, maxW, maxH, imaging.Lanczos))

	frame := Frame{
		ImageID:     rec.ID,
		Name:        rec.Name,
		Interlocked: interlocked,
		Watermark:   Watermark,
	}
	if interlocked {
		img = imaging.Grayscale(imaging.Blur(img, r.blurSigma))
		frame.Notice = InterlockNotice
	}

	b := img.Bounds()
	frame.Width, frame.Height = b.Dx(), b.Dy()

	frame.DataURL, err = r.encode(img)
	if err != nil {
		return Frame{}, fmt.Errorf("render %s: %w", rec.ID, err)
	}
	return frame, nil
}

// Thumbnail returns a cropped w x h preview of a data URL, used by
// dashboard listings so full payloads stay off the wire.
func (r *Renderer) Thumbnail(dataURL string, w, h int) (string, error) {
	src, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	return r.encode(imaging.Thumbnail(src, w, h, imaging.Box))
}

func (r *Renderer) encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, r.format); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	mediaType := "image/png"
	if r.format == imaging.JPEG {
		mediaType = "image/jpeg"
	}
	return EncodeDataURL(mediaType, buf.Bytes()), nil
}
