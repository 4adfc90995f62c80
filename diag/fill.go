package diag

import "github.com/x448/float16"

// Fill returns a copy of the buffer with every leaf replaced by a
// deterministic synthetic value derived from the seed. Two calls with the
// same seed produce identical values; distinct seeds produce distinct value
// streams. String leaves are left empty, only their shape contract matters.
func Fill(buffer Buffer, seed uint64) Buffer {
	stream := splitMix64{state: seed}
	return fillFrom(buffer, &stream)
}

func fillFrom(buffer Buffer, stream *splitMix64) Buffer {
	switch v := buffer.(type) {
	case FloatLeaf:
		return FloatLeaf(stream.nextUnit())
	case HalfLeaf:
		return HalfLeaf(float16.Fromfloat32(float32(stream.nextUnit())))
	case IntLeaf:
		// Small positive values so the leaf fits every engine int width
		// down to int8.
		return IntLeaf(stream.next() % 128)
	case BoolLeaf:
		return BoolLeaf(stream.next()&1 == 1)
	case StringLeaf:
		return v
	case Sequence:
		filled := make(Sequence, len(v))
		for i, child := range v {
			filled[i] = fillFrom(child, stream)
		}
		return filled
	default:
		return v
	}
}

// splitMix64 is the 64-bit SplitMix generator. It is not used for anything
// cryptographic: probe inputs only need to be deterministic per seed and
// distinct across seeds.
type splitMix64 struct {
	state uint64
}

func (s *splitMix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// nextUnit returns a float64 in [0, 1).
func (s *splitMix64) nextUnit() float64 {
	return float64(s.next()>>11) / (1 << 53)
}
