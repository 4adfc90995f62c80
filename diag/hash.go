package diag

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// HashSequence computes a content hash over a flattened numeric sequence.
// Equal sequences always hash equal; the hash covers both the values and
// their order.
func HashSequence(values []float64) uint64 {
	digest := xxhash.New()

	var scratch [8]byte
	for _, value := range values {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(value))
		_, _ = digest.Write(scratch[:])
	}
	return digest.Sum64()
}

// HashBuffer flattens a numeric buffer and hashes the result.
func HashBuffer(buffer Buffer) (uint64, error) {
	flat, err := Flatten(buffer)
	if err != nil {
		return 0, err
	}
	return HashSequence(flat), nil
}
