package vector

import "math"

// MaxDistance is the cosine distance reported when either vector has zero norm.
const MaxDistance = 1.0

// CosineDistance returns 1 - cos(a, b), in [0, 2]. Vectors of different length or
// with zero norm are at MaxDistance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return MaxDistance
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return MaxDistance
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	// rounding can push identical vectors slightly below zero
	return math.Max(0, math.Min(2, d))
}

// CosineSimilarity returns cos(a, b), or 0 when it is undefined.
func CosineSimilarity(a, b []float32) float64 {
	return 1 - CosineDistance(a, b)
}
