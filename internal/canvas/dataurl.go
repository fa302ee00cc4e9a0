package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // frames arrive as JPEG data URLs
	"image/png"
	"strings"
)

// PNGDataURLPrefix prefixes every canvas payload on the wire
const PNGDataURLPrefix = "data:image/png;base64,"

var (
	// ErrEmptyImage is returned for an empty payload
	ErrEmptyImage = errors.New("empty image data")
	// ErrInvalidImage is returned when the payload does not decode to an image
	ErrInvalidImage = errors.New("invalid image data")
)

// EncodePNGDataURL encodes img as a PNG data URL
func EncodePNGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return PNGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// StripDataURLPrefix removes a "data:<mime>;base64," header, if present
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// IsPNGDataURL reports whether s carries the PNG data URL header
func IsPNGDataURL(s string) bool {
	return strings.HasPrefix(s, PNGDataURLPrefix) && len(s) > len(PNGDataURLPrefix)
}

// DecodeDataURL decodes a base64 image payload, with or without a data URL header
func DecodeDataURL(s string) (image.Image, error) {
	payload := strings.TrimSpace(StripDataURLPrefix(s))
	if payload == "" {
		return nil, ErrEmptyImage
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some encoders omit padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}
