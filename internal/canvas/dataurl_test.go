package canvas

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDataURL(t *testing.T) {
	c := New(DefaultOptions())
	red := color.RGBA{R: 255, A: 255}
	c.DrawLine(Point{X: 10, Y: 10}, Point{X: 200, Y: 10}, &red)

	url, err := EncodePNGDataURL(c.Raster())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, PNGDataURLPrefix))
	assert.True(t, IsPNGDataURL(url))

	img, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	// the raw base64 payload decodes as well
	img, err = DecodeDataURL(StripDataURLPrefix(url))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
}

func TestDecodeDataURL_JPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	img, err := DecodeDataURL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestDecodeDataURL_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty", input: "", want: ErrEmptyImage},
		{name: "header only", input: PNGDataURLPrefix, want: ErrEmptyImage},
		{name: "not base64", input: PNGDataURLPrefix + "!!!not base64!!!", want: ErrInvalidImage},
		{name: "not an image", input: PNGDataURLPrefix + base64.StdEncoding.EncodeToString([]byte("hello world")), want: ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDataURL(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "abc", StripDataURLPrefix("data:image/png;base64,abc"))
	assert.Equal(t, "abc", StripDataURLPrefix("abc"))
	assert.False(t, IsPNGDataURL(PNGDataURLPrefix))
	assert.False(t, IsPNGDataURL("data:image/jpeg;base64,abc"))
}
