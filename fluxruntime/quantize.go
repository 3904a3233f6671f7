package fluxruntime

import (
	"math"

	"github.com/x448/float16"
)

// quantBlockSize is the number of values sharing one scale and offset.
const quantBlockSize = 32

// minQuantRange keeps constant blocks from dividing by zero.
const minQuantRange = 1e-10

// quantizedValues stores float32 values at 4 bits each, Q4_1 style: every
// block of 32 values keeps a float16 offset (the block minimum) and scale
// (the block range). Even indices occupy the low nibble of each byte.
type quantizedValues struct {
	count   int
	packed  []byte
	scales  []float16.Float16
	offsets []float16.Float16
}

func quantize(values []float32) quantizedValues {
	blocks := (len(values) + quantBlockSize - 1) / quantBlockSize
	q := quantizedValues{
		count:   len(values),
		packed:  make([]byte, (len(values)+1)/2),
		scales:  make([]float16.Float16, blocks),
		offsets: make([]float16.Float16, blocks),
	}

	for b := 0; b < blocks; b++ {
		start := b * quantBlockSize
		end := min(start+quantBlockSize, len(values))

		lo, hi := values[start], values[start]
		for _, v := range values[start+1 : end] {
			lo = min(lo, v)
			hi = max(hi, v)
		}

		q.offsets[b] = float16.Fromfloat32(lo)
		offset := q.offsets[b].Float32()
		q.scales[b] = float16.Fromfloat32(max(hi-offset, minQuantRange))
		scale := max(q.scales[b].Float32(), minQuantRange)

		inv := 15 / scale
		for i := start; i < end; i++ {
			n := math.Round(float64((values[i] - offset) * inv))
			nibble := byte(max(0, min(15, n)))
			if i%2 == 0 {
				q.packed[i/2] = q.packed[i/2]&0xF0 | nibble
			} else {
				q.packed[i/2] = q.packed[i/2]&0x0F | nibble<<4
			}
		}
	}
	return q
}

// dequantize expands the stored values. It does not modify q, so every
// call returns identical results.
func (q quantizedValues) dequantize() []float32 {
	values := make([]float32, q.count)
	for b := range q.scales {
		start := b * quantBlockSize
		end := min(start+quantBlockSize, q.count)
		step := q.scales[b].Float32() / 15
		offset := q.offsets[b].Float32()

		for i := start; i < end; i++ {
			nibble := q.packed[i/2] & 0x0F
			if i%2 == 1 {
				nibble = q.packed[i/2] >> 4
			}
			values[i] = float32(nibble)*step + offset
		}
	}
	return values
}

// size reports the bytes held by q.
func (q quantizedValues) size() int {
	return len(q.packed) + 2*len(q.scales) + 2*len(q.offsets)
}
