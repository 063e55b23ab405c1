package validator

import "math"

// CalculateEntropy computes the Shannon entropy of data in bits per byte over
// the 256-value byte histogram. The result is in [0, 8]: repetitive data
// scores near 0, uniformly random data near 8.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var histogram [256]int
	for _, b := range data {
		histogram[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
