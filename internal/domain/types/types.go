// Package types contains common types used across the application
package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// IDLength is the byte length of a participant public key.
const IDLength = 32

// ErrInvalidID is returned when a participant identity cannot be parsed.
var ErrInvalidID = errors.New("invalid participant id")

// ParticipantID is a participant's public key. Ordering is bytewise.
type ParticipantID [IDLength]byte

// ParseParticipantID decodes a hex encoded identity.
func ParseParticipantID(s string) (ParticipantID, error) {
	var id ParticipantID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if len(b) != IDLength {
		return id, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidID, IDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex form of the identity.
func (id ParticipantID) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated hex form for logs.
func (id ParticipantID) Short() string { return hex.EncodeToString(id[:4]) }

// Compare returns -1, 0 or +1 comparing id with other bytewise.
func (id ParticipantID) Compare(other ParticipantID) int { return bytes.Compare(id[:], other[:]) }

// Less reports whether id sorts before other.
func (id ParticipantID) Less(other ParticipantID) bool { return id.Compare(other) < 0 }

// IsZero reports whether the identity is unset.
func (id ParticipantID) IsZero() bool { return id == ParticipantID{} }

// MarshalText implements encoding.TextMarshaler.
func (id ParticipantID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ParticipantID) UnmarshalText(text []byte) error {
	parsed, err := ParseParticipantID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortIDs sorts ids in place in canonical order.
func SortIDs(ids []ParticipantID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Digest is a 32-byte hash rendered as hex in JSON.
type Digest [32]byte

// String returns the hex form of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil || len(b) != len(d) {
		return fmt.Errorf("invalid digest %q", text)
	}
	copy(d[:], b)
	return nil
}

// Point is a grid coordinate; X is the column and Y the row.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TrustView is the public read shape of a participant's trust state.
type TrustView struct {
	Participant ParticipantID `json:"participant"`
	Trust       float64       `json:"trust"`
	Positive    float64       `json:"r"`
	Negative    float64       `json:"s"`
	Bond        uint64        `json:"bond"`
	Eligible    bool          `json:"eligible"`
	Banned      bool          `json:"banned"`
}
