package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// CLIP image normalization constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// LoadImage decodes the image file at path. Unreadable or undecodable files
// return an error matching ErrDecodeFailure.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, decodeError(path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(path, err)
	}
	return img, nil
}

// DecodeImage decodes an encoded image held in memory.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, decodeError("", fmt.Errorf("empty image data"))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError("", err)
	}
	return img, nil
}

// Preprocess converts img into a CLIP pixel tensor of shape [3, size, size] (CHW):
// bicubic resize of the shortest side to size, center crop, then per-channel normalization.
func Preprocess(img image.Image, size int) []float32 {
	cropped := resizeAndCrop(img, size)
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := y*cropped.Stride + x*4
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(cropped.Pix[off+c]) / 255
				out[c*plane+i] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

func resizeAndCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, size, size))
	}
	sw, sh := size, size
	if w < h {
		sh = (h*size + w/2) / w
	} else if h < w {
		sw = (w*size + h/2) / h
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0 := (sw - size) / 2
	y0 := (sh - size) / 2
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return dst
}
