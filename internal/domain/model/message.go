// Package model contains the protocol messages passed between nodes and layers.
package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/types"
	"golang.org/x/crypto/blake2b"
)

// Kind is the type of a protocol message.
type Kind string

// Message kinds.
const (
	KindCommit Kind = "commit"
	KindReveal Kind = "reveal"
)

// ErrInvalidMessage is returned for structurally unusable messages.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a commitment or a reveal for one round of one height.
// ID is a transport identifier and is not part of the content digest.
type Message struct {
	ID          string              `json:"id,omitempty"`
	Kind        Kind                `json:"kind"`
	Height      uint64              `json:"height"`
	Round       int                 `json:"round"`
	Participant types.ParticipantID `json:"participant"`
	Commitment  types.Digest        `json:"commitment,omitzero"`
	Pattern     *glider.Pattern     `json:"pattern,omitempty"`
	Nonce       []byte              `json:"nonce,omitempty"`
	Signature   []byte              `json:"signature,omitempty"`
	Sent        time.Time           `json:"sent,omitzero"`
}

// Validate checks the fields required by the message kind.
func (m *Message) Validate() error {
	if m.Participant.IsZero() {
		return fmt.Errorf("%w: missing participant", ErrInvalidMessage)
	}
	if m.Round < 1 {
		return fmt.Errorf("%w: round %d", ErrInvalidMessage, m.Round)
	}
	switch m.Kind {
	case KindCommit:
		if m.Commitment.IsZero() {
			return fmt.Errorf("%w: commit without commitment", ErrInvalidMessage)
		}
	case KindReveal:
		if m.Pattern == nil || len(m.Nonce) == 0 {
			return fmt.Errorf("%w: reveal without pattern or nonce", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Digest identifies the message content for deduplication. Retransmits of
// the same content under a new ID share a digest.
func (m *Message) Digest() types.Digest {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte(m.Kind))
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[:8], m.Height)
	binary.BigEndian.PutUint32(hdr[8:], uint32(m.Round)) //nolint:gosec // validated positive and small
	_, _ = h.Write(hdr[:])
	_, _ = h.Write(m.Participant[:])
	_, _ = h.Write(m.Commitment[:])
	if m.Pattern != nil {
		if enc, err := m.Pattern.MarshalBinary(); err == nil {
			_, _ = h.Write(enc)
		}
	}
	_, _ = h.Write(m.Nonce)
	_, _ = h.Write(m.Signature)
	var d types.Digest
	copy(d[:], h.Sum(nil))
	return d
}
