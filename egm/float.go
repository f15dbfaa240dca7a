package egm

import "math"

func float32bits(v float64) uint32 {
	return math.Float32bits(float32(v))
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
