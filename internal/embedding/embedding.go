// Package embedding provides text embedders used by the embedding divergence strategy.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Embedder maps each input text to a fixed-dimension vector.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	ErrEmptyVector     = errors.New("embedding: empty vector")
	ErrDimensionChange = errors.New("embedding: vectors have different dimensions")
)

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, ErrDimensionChange
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// meanPool averages token states over positions where mask is set.
// hidden is laid out as [seqLen][dim].
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	if dim <= 0 {
		return out
	}
	var count float32
	for pos, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[pos*dim : (pos+1)*dim]
		for i, x := range row {
			out[i] += x
		}
		count++
	}
	if count == 0 {
		return out
	}
	for i := range out {
		out[i] /= count
	}
	return out
}
