package simulate

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/okian/arena/internal/domain/types"
	"golang.org/x/crypto/blake2b"
)

// NewParticipantID derives a random participant identity.
func NewParticipantID() types.ParticipantID {
	u := uuid.New()
	return types.ParticipantID(blake2b.Sum256(u[:]))
}

// GenesisYAML renders a config fragment bonding n fresh participants.
func GenesisYAML(n int, bond uint64, positive float64) ([]byte, error) {
	entries := make([]any, n)
	for i := range entries {
		entries[i] = map[string]any{
			"id":       NewParticipantID().String(),
			"bond":     bond,
			"positive": positive,
		}
	}
	out, err := yaml.Parser().Marshal(map[string]any{"genesis": entries})
	if err != nil {
		return nil, fmt.Errorf("marshal genesis: %w", err)
	}
	return out, nil
}
