package sdruntime

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoding for starting images
	"image/png"

	"golang.org/x/image/draw"
)

// PNG magic bytes for file identification
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// IsPNG checks if the given data starts with PNG magic bytes.
// This is a pure function with no side effects.
func IsPNG(data []byte) bool {
	if len(data) < len(pngMagic) {
		return false
	}
	return bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// DecodeImage decodes PNG or JPEG bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	return img, nil
}

// ScaleAndCrop scales img to cover width x height, preserving aspect
// ratio, and crops the overflow equally from both sides.
func ScaleAndCrop(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, width, height)
	}
	src := img.Bounds()
	if src.Dx() <= 0 || src.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty source image", ErrImageInvalidSize)
	}
	if src.Dx() == width && src.Dy() == height {
		return img, nil
	}

	scale := float64(width) / float64(src.Dx())
	if s := float64(height) / float64(src.Dy()); s > scale {
		scale = s
	}
	scaledW := int(float64(src.Dx())*scale + 0.5)
	scaledH := int(float64(src.Dy())*scale + 0.5)
	if scaledW < width {
		scaledW = width
	}
	if scaledH < height {
		scaledH = height
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, src, draw.Over, nil)

	offX := (scaledW - width) / 2
	offY := (scaledH - height) / 2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Copy(out, image.Point{}, scaled, image.Rect(offX, offY, offX+width, offY+height), draw.Src, nil)
	return out, nil
}

// EncodePNG encodes img to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrImageEncodeFail)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageEncodeFail, err)
	}
	return buf.Bytes(), nil
}

// RGBToImage converts packed RGB or RGBA pixels from the native runtime.
func RGBToImage(pixels []byte, width, height, channels int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, width, height)
	}
	if channels != 3 && channels != 4 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrImageInvalidSize, channels)
	}
	if want := width * height * channels; len(pixels) != want {
		return nil, fmt.Errorf("%w: expected %d bytes for %dx%dx%d, got %d",
			ErrImageInvalidSize, want, width, height, channels, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if channels == 4 {
		copy(img.Pix, pixels)
		return img, nil
	}
	for i, j := 0, 0; i < len(pixels); i, j = i+3, j+4 {
		img.Pix[j] = pixels[i]
		img.Pix[j+1] = pixels[i+1]
		img.Pix[j+2] = pixels[i+2]
		img.Pix[j+3] = 0xFF
	}
	return img, nil
}

// ImageToRGB packs img into tightly packed RGB bytes for the native runtime.
func ImageToRGB(img image.Image) (pixels []byte, width, height int) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	pixels = make([]byte, 0, b.Dx()*b.Dy()*3)
	for i := 0; i < len(rgba.Pix); i += 4 {
		pixels = append(pixels, rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
	}
	return pixels, b.Dx(), b.Dy()
}
