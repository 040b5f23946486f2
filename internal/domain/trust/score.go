package trust

import "math/bits"

// Score computes T = (r + alpha*K) / (r + s + K) for fixed-point counters,
// clamped to [0, 1].
func Score(r, s uint64, k, alpha float64) float64 {
	rf := float64(r) / float64(Scale)
	sf := float64(s) / float64(Scale)
	t := (rf + alpha*k) / (rf + sf + k)
	switch {
	case t != t: // NaN
		return 0
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// scale returns floor(v * num / Scale) exactly. num must not exceed Scale.
func scale(v, num uint64) uint64 {
	hi, lo := bits.Mul64(v, num)
	q, _ := bits.Div64(hi, lo, Scale)
	return q
}
