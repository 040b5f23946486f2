package commitreveal

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/types"
	"golang.org/x/crypto/blake2b"
)

// Nonce length bounds in bytes.
const (
	MinNonceLength = 16
	MaxNonceLength = 64
)

const commitDomain = "arena/commit/v1"

// Binding ties a commitment to one participant in one round of one height.
type Binding struct {
	Height      uint64              `json:"height"`
	Round       int                 `json:"round"`
	Participant types.ParticipantID `json:"participant"`
}

// key is domain | height (u64 BE) | round (u32 BE) | participant.
func (b Binding) key() []byte {
	k := make([]byte, 0, len(commitDomain)+8+4+types.IDLength)
	k = append(k, commitDomain...)
	k = binary.BigEndian.AppendUint64(k, b.Height)
	k = binary.BigEndian.AppendUint32(k, uint32(b.Round)) //nolint:gosec // rounds are bounded by log2 of participants
	return append(k, b.Participant[:]...)
}

// Digest computes the commitment: blake2b-256 keyed by the binding over the
// canonical pattern bytes followed by the nonce.
func Digest(b Binding, p glider.Pattern, nonce []byte) (types.Digest, error) {
	if len(nonce) < MinNonceLength || len(nonce) > MaxNonceLength {
		return types.Digest{}, fmt.Errorf("%w: %d bytes", ErrInvalidNonce, len(nonce))
	}
	enc, err := p.MarshalBinary()
	if err != nil {
		return types.Digest{}, err
	}
	h, err := blake2b.New256(b.key())
	if err != nil {
		return types.Digest{}, fmt.Errorf("commit hash: %w", err)
	}
	_, _ = h.Write(enc)
	_, _ = h.Write(nonce)
	var d types.Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// NewNonce draws a fresh nonce of MinNonceLength*2 bytes from r, or from
// crypto/rand when r is nil.
func NewNonce(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	n := make([]byte, 2*MinNonceLength)
	if _, err := io.ReadFull(r, n); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return n, nil
}
