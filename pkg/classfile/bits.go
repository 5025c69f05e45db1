package classfile

import "math"

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(high, low uint32) float64 {
	return math.Float64frombits(uint64(high)<<32 | uint64(low))
}
