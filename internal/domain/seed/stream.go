package seed

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const streamDomain = "arena/stream/v1"

// Stream yields uniform integers derived from a seed via the blake2b XOF.
// It is not safe for concurrent use.
type Stream struct {
	xof blake2b.XOF
	buf [8]byte
}

// NewStream creates the stream for a seed and a purpose label. Distinct
// labels give independent streams from the same seed.
func NewStream(s Seed, label string) *Stream {
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, s[:])
	if err != nil {
		// A 32-byte key and unknown length are always accepted.
		panic(err)
	}
	_, _ = xof.Write([]byte(streamDomain))
	_, _ = xof.Write([]byte(label))
	return &Stream{xof: xof}
}

// Uint64 returns the next 64 bits of the stream.
func (s *Stream) Uint64() uint64 {
	// The unbounded XOF output far exceeds any draw count we make.
	_, _ = s.xof.Read(s.buf[:])
	return binary.BigEndian.Uint64(s.buf[:])
}

// Intn returns a uniform integer in [0, n). It rejects draws below
// 2^64 mod n so every residue is equally likely. n must be positive.
func (s *Stream) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	bound := uint64(n)
	threshold := -bound % bound
	for {
		v := s.Uint64()
		if v >= threshold {
			return int(v % bound) //nolint:gosec // result < n
		}
	}
}

// Shuffle applies a Fisher–Yates shuffle over n elements.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, s.Intn(i+1))
	}
}
