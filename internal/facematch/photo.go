package facematch

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

var ErrBadPhoto = errors.New("unreadable photo")

const (
	jpegQuality = 90

	// 展開前に弾く上限（RGBA で約 160MB）
	maxDecodeSide   = 8192
	maxDecodePixels = 40_000_000
)

// NormalizePhoto decodes a jpeg/png/webp upload, shrinks it so neither side
// exceeds maxPx, and re-encodes it as jpeg for the matcher.
func NormalizePhoto(raw []byte, maxPx int) ([]byte, error) {
	img, err := decodePhoto(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPhoto, err)
	}
	img = downscale(img, maxPx)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPhoto, err)
	}
	return buf.Bytes(), nil
}

func decodePhoto(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty file")
	}
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)

	var (
		decodeConfig func(io.Reader) (image.Config, error)
		decode       func(io.Reader) (image.Image, error)
	)
	switch {
	case strings.Contains(ct, "jpeg"):
		decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
	case strings.Contains(ct, "png"):
		decodeConfig, decode = png.DecodeConfig, png.Decode
	case strings.Contains(ct, "webp"):
		decodeConfig, decode = webp.DecodeConfig, webp.Decode
	default:
		return nil, fmt.Errorf("unsupported format %s", ct)
	}

	cfg, err := decodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return decode(bytes.NewReader(raw))
}

// checkDimensions uses the header only, so a small file declaring a huge
// canvas is refused before any pixel buffer is allocated.
func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if w > maxDecodeSide || h > maxDecodeSide || int64(w)*int64(h) > maxDecodePixels {
		return fmt.Errorf("image too large: %dx%d", w, h)
	}
	return nil
}

func downscale(src image.Image, maxPx int) image.Image {
	if maxPx <= 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxPx && h <= maxPx {
		return src
	}
	scale := math.Min(float64(maxPx)/float64(w), float64(maxPx)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
