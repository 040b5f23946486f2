package tournament_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/arena/internal/adapters/bond"
	"github.com/okian/arena/internal/adapters/prover"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/pkg/logger"
)

type behaviour int

const (
	honest behaviour = iota
	silent           // never commits
	withhold         // commits, never reveals
	mismatch         // reveals a different pattern
	equivocate       // sends a second, conflicting commitment, then reveals the first
	reported         // commits honestly and is reported for equivocation
)

type player struct {
	id      types.ParticipantID
	pattern glider.Pattern
	act     behaviour
}

func pid(b byte) types.ParticipantID {
	var p types.ParticipantID
	p[0] = b
	return p
}

func players(acts ...behaviour) []player {
	cat := glider.Catalog()
	out := make([]player, len(acts))
	for i, a := range acts {
		out[i] = player{id: pid(byte(i + 1)), pattern: cat[i%len(cat)], act: a}
	}
	return out
}

type fixture struct {
	orch    *tournament.Orchestrator
	ledger  *trust.Ledger
	bonds   *bond.Memory
	archive *memArchive
}

func testConfig() tournament.Config {
	return tournament.Config{
		GridSize:        ca.SizeCompact,
		Steps:           30,
		CommitWindow:    300 * time.Millisecond,
		RevealWindow:    300 * time.Millisecond,
		SessionTimeout:  20 * time.Second,
		AttestTimeout:   time.Second,
		Retention:       8,
		ReplayCacheSize: 4,
		ReplayLimit:     1,
	}
}

func newFixture(ps []player, cfg tournament.Config, attestor tournament.Attestor, opts ...tournament.Option) *fixture {
	bonds := bond.NewMemory()
	ledger, err := trust.NewLedger(trust.WithBonds(bonds), trust.WithLogger(logger.NewNop()))
	if err != nil {
		panic(err)
	}
	for _, p := range ps {
		if err := bonds.Lock(p.id, 10); err != nil {
			panic(err)
		}
		if err := ledger.Register(p.id, 0, 3); err != nil {
			panic(err)
		}
	}
	window := testWindow()
	if attestor == nil {
		attestor, err = prover.New([]byte("test-node"))
		if err != nil {
			panic(err)
		}
	}
	archive := newMemArchive()
	orch, err := tournament.NewOrchestrator(ledger, window, attestor, append([]tournament.Option{
		tournament.WithConfig(cfg),
		tournament.WithLogger(logger.NewNop()),
		tournament.WithArchive(archive),
	}, opts...)...)
	if err != nil {
		panic(err)
	}
	return &fixture{orch: orch, ledger: ledger, bonds: bonds, archive: archive}
}

func testWindow() *seed.Window {
	window := seed.NewWindow(4)
	for h := uint64(1); h <= 4; h++ {
		_ = window.Push(h, []byte(fmt.Sprintf("vrf-%d", h)))
	}
	return window
}

func ids(ps []player) []types.ParticipantID {
	out := make([]types.ParticipantID, len(ps))
	for i, p := range ps {
		out[i] = p.id
	}
	return out
}

var nonce = bytes.Repeat([]byte{9}, 32) //nolint:gochecknoglobals // fixture

// drive plays every participant by watching the public state of height.
func drive(ctx context.Context, o *tournament.Orchestrator, height uint64, ps []player) {
	byID := make(map[types.ParticipantID]player, len(ps))
	for _, p := range ps {
		byID[p.id] = p
	}
	sent := make(map[string]bool)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := o.State(ctx, height)
		if err != nil {
			continue
		}
		if snap.Phase.Terminal() {
			return
		}
		for _, e := range snap.Entries {
			p := byID[e.Participant]
			bind := commitreveal.Binding{Height: height, Round: snap.Round, Participant: p.id}
			key := fmt.Sprintf("%s/%d/%s", snap.Phase, snap.Round, p.id)
			if sent[key] {
				continue
			}
			switch {
			case snap.Phase == tournament.PhaseCommit && e.State == commitreveal.Uncommitted && p.act != silent:
				d, _ := commitreveal.Digest(bind, p.pattern, nonce)
				_ = o.HandleMessage(ctx, model.Message{Kind: model.KindCommit, Height: height, Round: snap.Round, Participant: p.id, Commitment: d})
				if p.act == equivocate {
					other, _ := commitreveal.Digest(bind, glider.Glider, bytes.Repeat([]byte{1}, 32))
					_ = o.HandleMessage(ctx, model.Message{Kind: model.KindCommit, Height: height, Round: snap.Round, Participant: p.id, Commitment: other})
				}
				if p.act == reported {
					_ = o.ReportEquivocation(ctx, p.id, height)
				}
				sent[key] = true
			case snap.Phase == tournament.PhaseReveal && e.State == commitreveal.Committed && p.act != withhold:
				pattern := p.pattern
				if p.act == mismatch {
					pattern = glider.HWSS
					if p.pattern.Name == glider.HWSS.Name {
						pattern = glider.Glider
					}
				}
				_ = o.HandleMessage(ctx, model.Message{Kind: model.KindReveal, Height: height, Round: snap.Round, Participant: p.id, Pattern: &pattern, Nonce: nonce})
				sent[key] = true
			}
		}
	}
}

// play runs height to completion with ps acting.
func play(f *fixture, height uint64, ps []player) (*tournament.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		drive(ctx, f.orch, height, ps)
	}()
	snap, err := f.orch.Run(ctx, height)
	cancel()
	wg.Wait()
	return snap, err
}

type failingAttestor struct{}

func (failingAttestor) Attest(context.Context, []battle.Result) (tournament.Attestation, error) {
	return tournament.Attestation{}, errors.New("prover offline")
}

type lyingAttestor struct{}

func (lyingAttestor) Attest(_ context.Context, r []battle.Result) (tournament.Attestation, error) {
	return tournament.Attestation{Transcript: types.Digest{0xff}, Battles: len(r)}, nil
}

type memArchive struct {
	mu   sync.Mutex
	byID map[uint64]*tournament.Snapshot
}

func newMemArchive() *memArchive { return &memArchive{byID: make(map[uint64]*tournament.Snapshot)} }

func (a *memArchive) Archive(_ context.Context, s *tournament.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID[s.Height] = s
	return nil
}

func (a *memArchive) Session(_ context.Context, height uint64) (*tournament.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.byID[height]
	if !ok {
		return nil, errors.New("not archived")
	}
	return s, nil
}

func (a *memArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}
