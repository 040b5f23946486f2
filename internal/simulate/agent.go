// Package simulate drives synthetic participants through the commit and
// reveal protocol of a node.
package simulate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/logger"
)

const defaultPoll = 20 * time.Millisecond

// Behaviour is how an agent plays.
type Behaviour string

// Agent behaviours.
const (
	Honest     Behaviour = "honest"     // commits and reveals
	Silent     Behaviour = "silent"     // never commits
	Withhold   Behaviour = "withhold"   // commits, never reveals
	Mismatch   Behaviour = "mismatch"   // reveals a different pattern
	Equivocate Behaviour = "equivocate" // sends a second, conflicting commitment, reveals the first
)

// ParseBehaviours parses a comma separated list.
func ParseBehaviours(s string) ([]Behaviour, error) {
	var out []Behaviour
	for _, part := range strings.Split(s, ",") {
		b := Behaviour(strings.TrimSpace(part))
		switch b {
		case Honest, Silent, Withhold, Mismatch, Equivocate:
			out = append(out, b)
		case "":
		default:
			return nil, fmt.Errorf("unknown behaviour %q", b)
		}
	}
	if len(out) == 0 {
		out = []Behaviour{Honest}
	}
	return out, nil
}

// Node is the surface an agent plays against.
type Node interface {
	State(ctx context.Context, height uint64) (*tournament.Snapshot, error)
	Broadcast(ctx context.Context, m model.Message) error
}

// Agent is one synthetic participant.
type Agent struct {
	ID        types.ParticipantID
	Pattern   glider.Pattern
	Behaviour Behaviour

	nonce    []byte
	poll     time.Duration
	commits  atomic.Int64
	reveals  atomic.Int64
	rejected atomic.Int64
	logger   logger.Logger
}

// NewAgent creates an agent with a fresh nonce.
func NewAgent(id types.ParticipantID, p glider.Pattern, b Behaviour) (*Agent, error) {
	nonce, err := commitreveal.NewNonce(nil)
	if err != nil {
		return nil, err
	}
	return &Agent{
		ID:        id,
		Pattern:   p,
		Behaviour: b,
		nonce:     nonce,
		poll:      defaultPoll,
		logger:    logger.Get().Named("agent").With(logger.String("participant", id.Short())),
	}, nil
}

// Agents builds one agent per id, cycling through the catalog and the
// given behaviours.
func Agents(ids []types.ParticipantID, behaviours []Behaviour) ([]*Agent, error) {
	if len(behaviours) == 0 {
		behaviours = []Behaviour{Honest}
	}
	cat := glider.Catalog()
	out := make([]*Agent, len(ids))
	for i, id := range ids {
		a, err := NewAgent(id, cat[i%len(cat)], behaviours[i%len(behaviours)])
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// Play watches height and answers every commit and reveal phase the agent
// is seated in, until the session ends or ctx is done.
func (a *Agent) Play(ctx context.Context, node Node, height uint64) (*tournament.Snapshot, error) {
	sent := make(map[string]bool)
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		snap, err := node.State(ctx, height)
		if err == nil {
			if snap.Phase.Terminal() {
				return snap, nil
			}
			a.step(ctx, node, snap, sent)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) step(ctx context.Context, node Node, snap *tournament.Snapshot, sent map[string]bool) {
	var entry *commitreveal.Entry
	for i := range snap.Entries {
		if snap.Entries[i].Participant == a.ID {
			entry = &snap.Entries[i]
			break
		}
	}
	if entry == nil {
		return
	}
	key := fmt.Sprintf("%s/%d", snap.Phase, snap.Round)
	if sent[key] {
		return
	}

	bind := commitreveal.Binding{Height: snap.Height, Round: snap.Round, Participant: a.ID}
	switch {
	case snap.Phase == tournament.PhaseCommit && entry.State == commitreveal.Uncommitted && a.Behaviour != Silent:
		d, err := commitreveal.Digest(bind, a.Pattern, a.nonce)
		if err != nil {
			return
		}
		a.send(ctx, node, model.Message{Kind: model.KindCommit, Height: snap.Height, Round: snap.Round, Participant: a.ID, Commitment: d}, &a.commits)
		if a.Behaviour == Equivocate {
			other, err := commitreveal.Digest(bind, a.decoy(), bytes.Repeat([]byte{1}, commitreveal.MinNonceLength))
			if err == nil {
				a.send(ctx, node, model.Message{Kind: model.KindCommit, Height: snap.Height, Round: snap.Round, Participant: a.ID, Commitment: other}, &a.commits)
			}
		}
		sent[key] = true
	case snap.Phase == tournament.PhaseReveal && entry.State == commitreveal.Committed && (a.Behaviour == Honest || a.Behaviour == Mismatch || a.Behaviour == Equivocate):
		p := a.Pattern
		if a.Behaviour == Mismatch {
			p = a.decoy()
		}
		a.send(ctx, node, model.Message{Kind: model.KindReveal, Height: snap.Height, Round: snap.Round, Participant: a.ID, Pattern: &p, Nonce: a.nonce}, &a.reveals)
		sent[key] = true
	}
}

// decoy is a catalog pattern other than the committed one.
func (a *Agent) decoy() glider.Pattern {
	if a.Pattern.Name == glider.HWSS.Name {
		return glider.Glider
	}
	return glider.HWSS
}

func (a *Agent) send(ctx context.Context, node Node, m model.Message, counter *atomic.Int64) { //nolint:gocritic // hugeParam
	m.ID = uuid.NewString()
	if err := node.Broadcast(ctx, m); err != nil {
		a.rejected.Add(1)
		a.logger.Debug(ctx, "message rejected", logger.String("kind", string(m.Kind)), logger.Error(err))
		return
	}
	counter.Add(1)
	a.logger.Debug(ctx, "message sent",
		logger.String("kind", string(m.Kind)),
		logger.Uint64("height", m.Height),
		logger.Int("round", m.Round),
	)
}
