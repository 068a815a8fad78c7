package processor

import (
	"image"
	"image/color"
	"math"
)

// PreprocessForOCR downsizes oversized photos and binarizes them with Otsu's
// threshold. Phone photos of labels are large and unevenly lit; a clean
// black-on-white bitmap recognizes faster and more reliably.
func PreprocessForOCR(img image.Image, maxPixels int) *image.Gray {
	b := img.Bounds()
	if maxPixels > 0 && b.Dx()*b.Dy() > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(b.Dx()*b.Dy()))
		img = Fit(img, int(float64(b.Dx())*scale), int(float64(b.Dy())*scale))
		b = img.Bounds()
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	var hist [256]int
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			gray.Pix[y*gray.Stride+x] = v
			hist[v]++
		}
	}

	threshold := otsuThreshold(hist, b.Dx()*b.Dy())
	for i, v := range gray.Pix {
		if v > threshold {
			gray.Pix[i] = 255
		} else {
			gray.Pix[i] = 0
		}
	}
	return gray
}

// otsuThreshold picks the gray level maximizing between-class variance
func otsuThreshold(hist [256]int, total int) uint8 {
	if total == 0 {
		return 127
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, maxVar float64
	var wB int
	var best uint8
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = uint8(t)
		}
	}
	return best
}
