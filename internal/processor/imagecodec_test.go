package processor

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

func TestInspectImage(t *testing.T) {
	info, err := InspectImage(pngBytes(t, 40, 60))
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Width: 40, Height: 60, Format: "png"}, info)

	for _, data := range [][]byte{nil, []byte("definitely not an image")} {
		_, err := InspectImage(data)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindDecode))
	}
}

func TestFitAndEncode(t *testing.T) {
	img, err := DecodeImage(pngBytes(t, 400, 200))
	require.NoError(t, err)

	small := Fit(img, 100, 100)
	assert.Equal(t, 100, small.Bounds().Dx())
	assert.Equal(t, 50, small.Bounds().Dy())
	assert.Same(t, img, Fit(img, 1000, 1000))

	data, err := EncodeJPEG(small, 70)
	require.NoError(t, err)
	info, err := InspectImage(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", info.Format)
}

func TestPreprocessForOCR(t *testing.T) {
	img, err := DecodeImage(pngBytes(t, 400, 300))
	require.NoError(t, err)

	gray := PreprocessForOCR(img, 30000)
	b := gray.Bounds()
	assert.LessOrEqual(t, b.Dx()*b.Dy(), 30000)
	for i, p := range gray.Pix {
		if p != 0 && p != 255 {
			t.Fatalf("pixel %d is %d, want a binarized value", i, p)
		}
	}

	full := PreprocessForOCR(img, 0)
	assert.Equal(t, image.Rect(0, 0, 400, 300), full.Bounds())
}
