// Package prover is a local stand-in for the proof system. It attests a
// session's battle transcript with a keyed MAC and remembers recent
// attestations.
package prover

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/metrics"
	"golang.org/x/crypto/blake2b"
)

const defaultCacheSize = 256

// Sentinel kinds for prover errors.
var (
	ErrInvalidKey  = errors.New("prover key must be 1 to 64 bytes")
	ErrEmptyResult = errors.New("no battle results to attest")
)

// Option configures a Digest attestor.
type Option func(*Digest)

// WithCacheSize bounds the number of remembered attestations.
func WithCacheSize(n int) Option {
	return func(d *Digest) {
		if n > 0 {
			d.cacheSize = n
		}
	}
}

// WithAllowEmpty accepts sessions whose bracket resolved without a single
// battle, such as walkovers to the final.
func WithAllowEmpty(allow bool) Option {
	return func(d *Digest) { d.allowEmpty = allow }
}

// Digest attests transcripts with blake2b keyed by the node key.
type Digest struct {
	key        []byte
	cacheSize  int
	allowEmpty bool
	cache      *lru.Cache[types.Digest, tournament.Attestation]
}

// New creates a digest attestor.
func New(key []byte, opts ...Option) (*Digest, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, ErrInvalidKey
	}
	d := &Digest{key: append([]byte(nil), key...), cacheSize: defaultCacheSize, allowEmpty: true}
	for _, opt := range opts {
		opt(d)
	}
	cache, err := lru.New[types.Digest, tournament.Attestation](d.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("attestation cache: %w", err)
	}
	d.cache = cache
	return d, nil
}

// Attest implements tournament.Attestor.
func (d *Digest) Attest(ctx context.Context, results []battle.Result) (tournament.Attestation, error) {
	if err := ctx.Err(); err != nil {
		return tournament.Attestation{}, err
	}
	if len(results) == 0 && !d.allowEmpty {
		return tournament.Attestation{}, ErrEmptyResult
	}
	transcript := tournament.Transcript(results)
	if att, ok := d.cache.Get(transcript); ok {
		metrics.RecordAttestation("cached")
		return att, nil
	}
	att := tournament.Attestation{
		Transcript: transcript,
		Battles:    len(results),
		Proof:      d.proof(transcript),
	}
	d.cache.Add(transcript, att)
	return att, nil
}

// Verify reports whether att proves results.
func (d *Digest) Verify(results []battle.Result, att tournament.Attestation) bool { //nolint:gocritic // hugeParam: read-only
	transcript := tournament.Transcript(results)
	if transcript != att.Transcript || att.Battles != len(results) {
		return false
	}
	return subtle.ConstantTimeCompare(d.proof(transcript), att.Proof) == 1
}

// Cached returns the number of remembered attestations.
func (d *Digest) Cached() int { return d.cache.Len() }

func (d *Digest) proof(transcript types.Digest) []byte {
	h, _ := blake2b.New256(d.key)
	_, _ = h.Write(transcript[:])
	return h.Sum(nil)
}
