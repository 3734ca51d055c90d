package maplayer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func decodeTile(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// applySettings fades img by alpha and scales it by the shrink factors.
func applySettings(img image.Image, alpha uint8, xs, ys float64) image.Image {
	if alpha < 255 {
		img = withAlpha(img, alpha)
	}
	if xs != 1 || ys != 1 {
		img = shrink(img, xs, ys)
	}
	return img
}

func withAlpha(src image.Image, alpha uint8) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = uint8(uint16(dst.Pix[i]) * uint16(alpha) / 255)
	}
	return dst
}

// shrink resizes src to ceil(w·xs) by ceil(h·ys) with bilinear filtering.
func shrink(src image.Image, xs, ys float64) *image.NRGBA {
	b := src.Bounds()
	w := int(math.Ceil(float64(b.Dx()) * xs))
	h := int(math.Ceil(float64(b.Dy()) * ys))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
