package core

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{name: "unit vector unchanged", in: []float64{1, 0, 0}, want: []float64{1, 0, 0}},
		{name: "3-4-5", in: []float64{3, 4}, want: []float64{0.6, 0.8}},
		{name: "zero vector returned unchanged", in: []float64{0, 0, 0}, want: []float64{0, 0, 0}},
		{name: "empty", in: []float64{}, want: []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	vectors := [][]float64{
		{1, 2, 3},
		{-0.5, 0.25, 10, 7},
		{1e-9, 1e-9},
		{42},
	}
	for _, v := range vectors {
		once := Normalize(v)
		twice := Normalize(once)
		require.Len(t, twice, len(once))
		for i := range once {
			assert.InDelta(t, once[i], twice[i], 1e-12)
		}
		assert.InDelta(t, 1.0, once.Norm(), 1e-9)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 4}
	_ = Normalize(in)
	assert.Equal(t, []float64{3, 4}, in)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
	assert.False(t, math.IsNaN(CosineSimilarity(nil, nil)))
}

func TestImageBytes(t *testing.T) {
	raw := ImageFromBytes([]byte("jpeg-bytes"))
	b, err := raw.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), b)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	decoded := ImageFromDecoded(img)
	b, err = decoded.Bytes()
	require.NoError(t, err)
	assert.NotEmpty(t, b)

	_, err = Image{}.Bytes()
	assert.Error(t, err)
	assert.True(t, Image{}.Empty())
}
