package fluxruntime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // starting images may be JPEG
	"image/png"

	"golang.org/x/image/draw"
)

// decodeStartingImage decodes data into RGBA at width x height. Images of
// another size are scaled to cover the target and center cropped.
func decodeStartingImage(data []byte, width, height int) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty image")
	}
	if width <= 0 || height <= 0 || (b.Dx() == width && b.Dy() == height) {
		return toRGBA(src), nil
	}

	scale := max(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	scaledW := max(width, int(float64(b.Dx())*scale+0.5))
	scaledH := max(height, int(float64(b.Dy())*scale+0.5))
	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)

	offX, offY := (scaledW-width)/2, (scaledH-height)/2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Copy(out, image.Point{}, scaled, image.Rect(offX, offY, offX+width, offY+height), draw.Src, nil)
	return out, nil
}

// toRGBA returns img as a zero-origin RGBA image.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// pixelsToImage wraps packed RGB or RGBA engine output.
func pixelsToImage(pixels []byte, width, height, channels int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || (channels != 3 && channels != 4) {
		return nil, fmt.Errorf("unsupported image %dx%dx%d", width, height, channels)
	}
	if len(pixels) != width*height*channels {
		return nil, fmt.Errorf("expected %d bytes, got %d", width*height*channels, len(pixels))
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if channels == 4 {
		copy(img.Pix, pixels)
		return img, nil
	}
	for i, j := 0, 0; i < len(pixels); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = pixels[i], pixels[i+1], pixels[i+2], 0xFF
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
