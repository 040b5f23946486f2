package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/commitreveal"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
	bolt "go.etcd.io/bbolt"
)

func pid(b byte) types.ParticipantID {
	var p types.ParticipantID
	p[0] = b
	return p
}

func finished(height uint64) *tournament.Snapshot {
	winner := pid(1)
	return &tournament.Snapshot{
		Session:  "s-test",
		Height:   height,
		Phase:    tournament.PhaseFinalized,
		Round:    1,
		Eligible: []types.ParticipantID{pid(1), pid(2)},
		Results: []battle.Result{{
			A: pid(1), B: pid(2), EnergyA: 40, EnergyB: 12, Winner: pid(1), Steps: 30,
		}},
		Forfeits: []tournament.ForfeitRecord{{
			Round: 1, Pairing: "r1-1", Participant: pid(3), Reason: commitreveal.ReasonMissedReveal,
		}},
		Proposer:  &winner,
		StartedAt: time.Unix(100, 0).UTC(),
		EndedAt:   time.Unix(104, 0).UTC(),
	}
}

func TestBoltStore_Sessions(t *testing.T) {
	Convey("Given an empty store", t, func() {
		dir := t.TempDir()
		store, err := repository.Open(dir)
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })
		ctx := context.Background()

		Convey("When nothing was archived", func() {
			_, errSession := store.Session(ctx, 1)
			_, errLatest := store.Latest(ctx)

			Convey("Then lookups report ErrNotFound", func() {
				So(errors.Is(errSession, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(errLatest, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When sessions are archived out of order", func() {
			for _, h := range []uint64{7, 300, 12} {
				So(store.Archive(ctx, finished(h)), ShouldBeNil)
			}

			Convey("Then each height reads back intact", func() {
				got, err := store.Session(ctx, 12)
				So(err, ShouldBeNil)
				So(got.Height, ShouldEqual, 12)
				So(got.Phase, ShouldEqual, tournament.PhaseFinalized)
				So(*got.Proposer, ShouldEqual, pid(1))
				So(got.Results, ShouldResemble, finished(12).Results)
				So(got.Forfeits, ShouldResemble, finished(12).Forfeits)
				So(got.EndedAt.Equal(time.Unix(104, 0)), ShouldBeTrue)
			})

			Convey("Then Latest is the highest height", func() {
				h, err := store.Latest(ctx)
				So(err, ShouldBeNil)
				So(h, ShouldEqual, 300)
			})
		})

		Convey("When a height is archived twice", func() {
			first := finished(5)
			second := finished(5)
			second.Phase = tournament.PhaseAborted
			second.Abort = tournament.AbortAttestation
			So(store.Archive(ctx, first), ShouldBeNil)
			So(store.Archive(ctx, second), ShouldBeNil)

			Convey("Then the later record wins", func() {
				got, err := store.Session(ctx, 5)
				So(err, ShouldBeNil)
				So(got.Abort, ShouldEqual, tournament.AbortAttestation)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then operations return the context error", func() {
				So(store.Archive(cctx, finished(1)), ShouldEqual, context.Canceled)
				_, err := store.Session(cctx, 1)
				So(err, ShouldEqual, context.Canceled)
			})
		})
	})
}

func TestBoltStore_Trust(t *testing.T) {
	Convey("Given a store with a trust snapshot", t, func() {
		dir := t.TempDir()
		store, err := repository.Open(dir, repository.WithFileName("node.db"))
		So(err, ShouldBeNil)
		ctx := context.Background()

		_, err = store.LoadTrust(ctx)
		So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

		snap := trust.Snapshot{Epoch: 3, Records: []trust.Record{
			{Participant: pid(1), R: 5 << 16, S: 1 << 16, FirstSeen: 2},
			{Participant: pid(2), Banned: true, BannedAt: 9},
		}}
		So(store.SaveTrust(ctx, snap), ShouldBeNil)

		Convey("When the store is reopened", func() {
			So(store.Close(), ShouldBeNil)
			_, statErr := os.Stat(filepath.Join(dir, "node.db"))
			So(statErr, ShouldBeNil)

			reopened, err := repository.Open(dir, repository.WithFileName("node.db"))
			So(err, ShouldBeNil)
			defer func() { _ = reopened.Close() }()

			Convey("Then the snapshot survives", func() {
				got, err := reopened.LoadTrust(ctx)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, snap)
			})
		})
	})
}

func TestBoltStore_Corrupt(t *testing.T) {
	Convey("Given a record that is not zstd data", t, func() {
		dir := t.TempDir()
		store, err := repository.Open(dir)
		So(err, ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		db, err := bolt.Open(filepath.Join(dir, "arena.db"), 0o600, &bolt.Options{Timeout: time.Second})
		So(err, ShouldBeNil)
		So(db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte("trust")).Put([]byte("snapshot"), []byte("garbage"))
		}), ShouldBeNil)
		So(db.Close(), ShouldBeNil)

		store, err = repository.Open(dir)
		So(err, ShouldBeNil)
		defer func() { _ = store.Close() }()

		Convey("Then loading reports ErrCorrupt", func() {
			_, err := store.LoadTrust(context.Background())
			So(errors.Is(err, repository.ErrCorrupt), ShouldBeTrue)
		})
	})
}
