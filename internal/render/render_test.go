package render

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snapguard/internal/ir"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, c), imaging.PNG))
	return buf.Bytes()
}

func pngDataURL(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	return EncodeDataURL("image/png", pngBytes(t, w, h, c))
}

func decodeFrame(t *testing.T, f Frame) image.Image {
	t.Helper()
	img, err := DecodeDataURL(f.DataURL)
	require.NoError(t, err)
	return img
}

func TestViewport_Bounds(t *testing.T) {
	tests := []struct {
		name  string
		vp    Viewport
		wantW int
		wantH int
	}{
		{"desktop", Viewport{Width: 1000, Height: 1000}, 900, 700},
		{"phone", Viewport{Width: 390, Height: 844}, 351, 590},
		{"unknown falls back", Viewport{}, 1152, 560},
		{"negative falls back", Viewport{Width: -1, Height: 10}, 1152, 560},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.vp.Bounds()
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestRender_FitsIntoViewport(t *testing.T) {
	rec := ir.NewImageRecord("img", "wide.png", pngDataURL(t, 2000, 1000, color.White), 1)

	frame, err := New().Render(rec, false, Viewport{Width: 1000, Height: 1000})
	require.NoError(t, err)

	assert.Equal(t, 900, frame.Width)
	assert.Equal(t, 450, frame.Height)
	assert.Equal(t, Watermark, frame.Watermark)
	assert.Equal(t, "wide.png", frame.Name)
	assert.False(t, frame.Interlocked)
	assert.Empty(t, frame.Notice)
	assert.True(t, strings.HasPrefix(frame.DataURL, "data:image/png;base64,"))

	b := decodeFrame(t, frame).Bounds()
	assert.Equal(t, 900, b.Dx())
	assert.Equal(t, 450, b.Dy())
}

func TestRender_NeverUpscales(t *testing.T) {
	rec := ir.NewImageRecord("img", "small.png", pngDataURL(t, 100, 50, color.White), 1)

	frame, err := New().Render(rec, false, Viewport{Width: 4000, Height: 4000})
	require.NoError(t, err)
	assert.Equal(t, 100, frame.Width)
	assert.Equal(t, 50, frame.Height)
}

func TestRender_InterlockBlursAndDesaturates(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	rec := ir.NewImageRecord("img", "red.png", pngDataURL(t, 64, 64, red), 1)

	frame, err := New(WithBlurSigma(4)).Render(rec, true, DefaultViewport)
	require.NoError(t, err)
	assert.True(t, frame.Interlocked)
	assert.Equal(t, InterlockNotice, frame.Notice)
	assert.Equal(t, Watermark, frame.Watermark)

	img := decodeFrame(t, frame)
	r, g, b, _ := img.At(32, 32).RGBA()
	assert.Equal(t, r, g, "grayscale pixel expected")
	assert.Equal(t, g, b, "grayscale pixel expected")
}

func TestRender_JPEG(t *testing.T) {
	rec := ir.NewImageRecord("img", "a.png", pngDataURL(t, 10, 10, color.Black), 1)
	frame, err := New(WithJPEG()).Render(rec, false, DefaultViewport)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(frame.DataURL, "data:image/jpeg;base64,"))
}

func TestRender_BadPayload(t *testing.T) {
	rec := ir.NewImageRecord("img", "x", "data:text/plain;base64,aGk=", 1)
	_, err := New().Render(rec, false, DefaultViewport)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestDecodeDataURL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"no scheme", "hello", ErrMalformedDataURL},
		{"no comma", "data:image/png;base64", ErrMalformedDataURL},
		{"not base64 encoded", "data:image/png,abc", ErrMalformedDataURL},
		{"bad base64", "data:image/png;base64,!!!", ErrMalformedDataURL},
		{"text payload", "data:text/plain;base64,aGk=", ErrNotImage},
		{"image type with junk", "data:image/png;base64,aGk=", ErrNotImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDataURL(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseDataURL_LowercasesMediaType(t *testing.T) {
	mediaType, data, err := ParseDataURL("data:IMAGE/PNG;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, []byte("hi"), data)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(pngPath, pngBytes(t, 8, 8, color.White), 0o644))

	dataURL, err := LoadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
	require.NoError(t, ValidateDataURL(dataURL))

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("not an image"), 0o644))
	_, err = LoadFile(txtPath)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = LoadFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestThumbnail(t *testing.T) {
	thumb, err := New().Thumbnail(pngDataURL(t, 300, 100, color.White), 32, 32)
	require.NoError(t, err)

	img, err := DecodeDataURL(thumb)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}
