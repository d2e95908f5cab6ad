package selection

import (
	"fmt"
	"image"
	"io"
	"math/bits"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// dHash dimensions: each row of the 9x8 grayscale grid yields 8 horizontal
// gradient bits, 64 bits total.
const (
	hashWidth  = 9
	hashHeight = 8
)

// PerceptualHash computes the 64-bit difference hash of an image. The image
// is scaled to a 9x8 grid and each bit records whether a pixel is brighter
// than its right neighbor, which is stable across resizes and mild
// recompression.
func PerceptualHash(r io.Reader) (uint64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("decoding image: %w", err)
	}
	return hashImage(img), nil
}

func hashImage(img image.Image) uint64 {
	small := image.NewGray(image.Rect(0, 0, hashWidth, hashHeight))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	var hash uint64
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			hash <<= 1
			if left > right {
				hash |= 1
			}
		}
	}
	return hash
}

// Similarity returns how alike two hashes are, from 0.0 (every bit differs)
// to 1.0 (identical). Zero hashes mean the content was never hashed and
// never match anything.
func Similarity(a, b uint64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	distance := bits.OnesCount64(a ^ b)
	return 1.0 - float64(distance)/64.0
}
