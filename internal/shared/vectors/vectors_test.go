package vectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"相同向量", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"正交向量", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"相反向量截断为零", []float32{1, 0}, []float32{-1, 0}, 0.0},
		{"零向量", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"维度不一致", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"空向量", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineRaw(t *testing.T) {
	assert.InDelta(t, 1.0, CosineRaw([]float32{2, 0}, []float32{4, 0}), 1e-9)
	assert.InDelta(t, -1.0, CosineRaw([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineRaw([]float32{1, 0}, []float32{0, 5}), 1e-9)
}
