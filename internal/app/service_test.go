package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/arena/internal/app"
	"github.com/okian/arena/internal/config"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/internal/simulate"
	"github.com/okian/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(dataDir string, participants int) *config.Config {
	cfg := config.New()
	cfg.DataDir = dataDir
	cfg.GridSize = 64
	cfg.BattleSteps = 30
	cfg.CommitWindowMS = 300
	cfg.RevealWindowMS = 300
	cfg.SessionTimeoutMS = 20_000
	cfg.BlockIntervalMS = 0
	for i := range participants {
		var id types.ParticipantID
		id[0] = byte(i + 1)
		cfg.Genesis = append(cfg.Genesis, config.Genesis{ID: id.String(), Bond: 10, Positive: 20})
	}
	return cfg
}

func genesisIDs(cfg *config.Config) []types.ParticipantID {
	out := make([]types.ParticipantID, len(cfg.Genesis))
	for i, g := range cfg.Genesis {
		id, err := types.ParseParticipantID(g.ID)
		if err != nil {
			panic(err)
		}
		out[i] = id
	}
	return out
}

func newService(cfg *config.Config) *service.Service {
	return service.New(service.WithConfig(cfg), service.WithLogger(logger.NewNop()))
}

// playBlock produces the next block while honest agents play it.
func playBlock(svc *service.Service, ids []types.ParticipantID) (*tournament.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	agents, err := simulate.Agents(ids, nil)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = simulate.PlayHeight(ctx, svc, agents, svc.Height()+1)
	}()
	snap, err := svc.ProduceBlock(ctx)
	cancel()
	<-done
	return snap, err
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		svc := newService(testConfig("", 2))

		Convey("Then queries report that it is not running", func() {
			_, err := svc.ProduceBlock(context.Background())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.State(context.Background(), 1)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.EligibleSet(), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When it is started with genesis participants", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop(context.Background())

			Convey("Then they are bonded and eligible", func() {
				So(len(svc.EligibleSet()), ShouldEqual, 2)
				for _, id := range genesisIDs(testConfig("", 2)) {
					v, err := svc.Trust(id)
					So(err, ShouldBeNil)
					So(v.Bond, ShouldEqual, uint64(10))
					So(v.Eligible, ShouldBeTrue)
				}
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["registered"], ShouldEqual, 2)
				So(svc.Start(context.Background()), ShouldBeNil)
			})
		})
	})

	Convey("Given a genesis entry with a malformed id", t, func() {
		cfg := testConfig("", 0)
		cfg.Genesis = []config.Genesis{{ID: "nothex", Bond: 1}}

		Convey("Then Start fails with ErrInvalidConfig", func() {
			err := newService(cfg).Start(context.Background())
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestService_ProduceBlock(t *testing.T) {
	Convey("Given a running node with four participants", t, func() {
		cfg := testConfig("", 4)
		ids := genesisIDs(cfg)
		svc := newService(cfg)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop(context.Background())

		Convey("When nobody answers the commit phase", func() {
			before, _ := svc.Trust(ids[0])
			snap, err := svc.ProduceBlock(context.Background())

			Convey("Then the session aborts without a winner and trust drops", func() {
				So(errors.Is(err, tournament.ErrNoWinner), ShouldBeTrue)
				So(snap.Phase, ShouldEqual, tournament.PhaseAborted)
				So(snap.Abort, ShouldEqual, tournament.AbortNoWinner)
				So(svc.Height(), ShouldEqual, uint64(1))

				after, _ := svc.Trust(ids[0])
				So(after.Negative, ShouldBeGreaterThan, before.Negative)
				So(svc.GetStats()["aborted"], ShouldEqual, uint64(1))
			})
		})

		Convey("When every participant plays honestly", func() {
			snap, err := playBlock(svc, ids)

			Convey("Then the proposer is credited with a valid block", func() {
				So(err, ShouldBeNil)
				So(snap.Phase, ShouldEqual, tournament.PhaseFinalized)
				So(snap.Proposer, ShouldNotBeNil)

				proposer, err := svc.Trust(*snap.Proposer)
				So(err, ShouldBeNil)
				for _, id := range ids {
					if id == *snap.Proposer {
						continue
					}
					other, _ := svc.Trust(id)
					So(proposer.Positive, ShouldBeGreaterThan, other.Positive)
				}
				So(svc.GetStats()["finalized"], ShouldEqual, uint64(1))
			})

			Convey("Then its battles can be replayed", func() {
				tr, err := svc.Replay(context.Background(), 1, snap.Bracket.Rounds[0][0].ID)
				So(err, ShouldBeNil)
				So(len(tr.Frames), ShouldEqual, cfg.BattleSteps+1)
			})
		})
	})
}

func TestService_Persistence(t *testing.T) {
	Convey("Given a node with a data directory", t, func() {
		dir := t.TempDir()
		cfg := testConfig(dir, 2)
		ids := genesisIDs(cfg)

		svc := newService(cfg)
		So(svc.Start(context.Background()), ShouldBeNil)
		_, err := playBlock(svc, ids)
		So(err, ShouldBeNil)
		finished, err := svc.State(context.Background(), 1)
		So(err, ShouldBeNil)
		proposer := *finished.Proposer
		want, err := svc.Trust(proposer)
		So(err, ShouldBeNil)
		svc.Stop(context.Background())

		Convey("When the node restarts", func() {
			restarted := newService(testConfig(dir, 2))
			So(restarted.Start(context.Background()), ShouldBeNil)
			defer restarted.Stop(context.Background())

			Convey("Then height, archive and ledger are restored", func() {
				So(restarted.Height(), ShouldEqual, uint64(1))

				snap, err := restarted.State(context.Background(), 1)
				So(err, ShouldBeNil)
				So(snap.Phase, ShouldEqual, tournament.PhaseFinalized)
				So(*snap.Proposer, ShouldEqual, proposer)

				got, err := restarted.Trust(proposer)
				So(err, ShouldBeNil)
				So(got.Positive, ShouldEqual, want.Positive)
				So(got.Negative, ShouldEqual, want.Negative)
			})
		})
	})
}

func TestService_Equivocation(t *testing.T) {
	Convey("Given a node where one participant sends conflicting commitments", t, func() {
		cfg := testConfig("", 3)
		ids := genesisIDs(cfg)
		svc := newService(cfg)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		agents, err := simulate.Agents(ids, []simulate.Behaviour{simulate.Equivocate, simulate.Honest, simulate.Honest})
		So(err, ShouldBeNil)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = simulate.PlayHeight(ctx, svc, agents, 1)
		}()
		snap, err := svc.ProduceBlock(ctx)
		cancel()
		<-done

		Convey("Then the conflicting commitment is only rejected", func() {
			So(err, ShouldBeNil)
			So(snap.Phase, ShouldEqual, tournament.PhaseFinalized)
			So(snap.Forfeits, ShouldBeEmpty)

			v, err := svc.Trust(ids[0])
			So(err, ShouldBeNil)
			So(v.Banned, ShouldBeFalse)
			So(v.Bond, ShouldEqual, uint64(10))
			So(svc.GetStats()["slashed"], ShouldEqual, uint64(0))
		})

		Convey("When consensus reports the participant for equivocation", func() {
			So(svc.ReportEquivocation(context.Background(), ids[0], 1), ShouldBeNil)

			Convey("Then it is banned and slashed", func() {
				v, err := svc.Trust(ids[0])
				So(err, ShouldBeNil)
				So(v.Banned, ShouldBeTrue)
				So(v.Bond, ShouldEqual, uint64(0))
				So(v.Eligible, ShouldBeFalse)
				So(svc.GetStats()["slashed"], ShouldEqual, uint64(10))
				So(len(svc.EligibleSet()), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a node that is not started", t, func() {
		svc := newService(testConfig("", 2))

		Convey("Then equivocation reports are refused", func() {
			err := svc.ReportEquivocation(context.Background(), types.ParticipantID{1}, 1)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

// waitPhase polls the session at height until it reaches phase.
func waitPhase(ctx context.Context, svc *service.Service, height uint64, phase tournament.Phase) *tournament.Snapshot {
	for ctx.Err() == nil {
		if snap, err := svc.State(ctx, height); err == nil && snap.Phase == phase {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

func TestService_EarlyReveal(t *testing.T) {
	Convey("Given a started node with two participants", t, func() {
		cfg := testConfig("", 2)
		cfg.CommitWindowMS = 2000
		cfg.RevealWindowMS = 2000
		svc := newService(cfg)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop(context.Background())
		ids := genesisIDs(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		type produced struct {
			snap *tournament.Snapshot
			err  error
		}
		out := make(chan produced, 1)
		go func() {
			snap, err := svc.ProduceBlock(ctx)
			out <- produced{snap, err}
		}()

		snap := waitPhase(ctx, svc, 1, tournament.PhaseCommit)
		So(snap, ShouldNotBeNil)
		patterns := []glider.Pattern{glider.Glider, glider.HWSS}
		nonce := bytes.Repeat([]byte{7}, commitreveal.MinNonceLength)
		reveal := func(i int) model.Message {
			p := patterns[i]
			return model.Message{Kind: model.KindReveal, Height: 1, Round: snap.Round, Participant: ids[i], Pattern: &p, Nonce: nonce}
		}
		commit := func(i int) model.Message {
			d, err := commitreveal.Digest(commitreveal.Binding{Height: 1, Round: snap.Round, Participant: ids[i]}, patterns[i], nonce)
			So(err, ShouldBeNil)
			return model.Message{Kind: model.KindCommit, Height: 1, Round: snap.Round, Participant: ids[i], Commitment: d}
		}

		Convey("When a reveal arrives during the commit phase and is resent once reveals open", func() {
			So(svc.Broadcast(ctx, commit(0)), ShouldBeNil)
			So(svc.Broadcast(ctx, reveal(0)), ShouldBeNil)
			So(svc.Broadcast(ctx, commit(1)), ShouldBeNil)
			So(waitPhase(ctx, svc, 1, tournament.PhaseReveal), ShouldNotBeNil)
			retry := svc.Broadcast(ctx, reveal(0))
			So(svc.Broadcast(ctx, reveal(1)), ShouldBeNil)
			res := <-out

			Convey("Then the retry is delivered and nobody forfeits", func() {
				So(retry, ShouldBeNil)
				So(res.err, ShouldBeNil)
				So(res.snap.Phase, ShouldEqual, tournament.PhaseFinalized)
				So(res.snap.Forfeits, ShouldBeEmpty)
				So(len(res.snap.Results), ShouldEqual, 1)
			})
		})
	})
}
