package retrieval

import "math"

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a, b) / (magA * magB), with the magnitudes
// supplied by the caller. Vectors of different length are compared over
// their common prefix. A zero magnitude yields 0.
func CosineSimilarity(a, b []float64, magA, magB float64) float64 {
	if magA == 0 || magB == 0 {
		return 0
	}

	n := min(len(a), len(b))
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot / (magA * magB)
}
