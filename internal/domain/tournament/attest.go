package tournament

import (
	"context"
	"encoding/binary"

	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/types"
	"golang.org/x/crypto/blake2b"
)

const transcriptKey = "arena/transcript/v1"

// Attestation is the proof system's answer for a session's battles.
type Attestation struct {
	Transcript types.Digest `json:"transcript"`
	Battles    int          `json:"battles"`
	Proof      []byte       `json:"proof"`
}

// Attestor proves the ordered battle results of a session.
type Attestor interface {
	Attest(ctx context.Context, results []battle.Result) (Attestation, error)
}

// Transcript commits to an ordered list of battle results.
func Transcript(results []battle.Result) types.Digest {
	h, _ := blake2b.New256([]byte(transcriptKey))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(results)))
	_, _ = h.Write(buf[:])
	for _, r := range results {
		_, _ = h.Write(r.A[:])
		_, _ = h.Write(r.B[:])
		for _, v := range []uint64{r.EnergyA, r.EnergyB, r.Neutral, uint64(r.Steps)} { //nolint:gosec // steps validated non-negative
			binary.BigEndian.PutUint64(buf[:], v)
			_, _ = h.Write(buf[:])
		}
		_, _ = h.Write(r.Winner[:])
		_, _ = h.Write(r.FinalDigest[:])
	}
	var d types.Digest
	copy(d[:], h.Sum(nil))
	return d
}
