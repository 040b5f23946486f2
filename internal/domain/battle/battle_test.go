package battle_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func id(b byte) types.ParticipantID {
	var p types.ParticipantID
	p[0] = b
	return p
}

func scenario() battle.Spec {
	return battle.Spec{
		A:      battle.Contender{ID: id(1), Pattern: glider.Glider},
		B:      battle.Contender{ID: id(2), Pattern: glider.HWSS},
		SpawnA: types.Point{X: 256, Y: 512},
		SpawnB: types.Point{X: 768, Y: 512},
		Steps:  1000,
		Size:   ca.SizeStandard,
	}
}

func TestBattle_Scenario(t *testing.T) {
	Convey("Given a glider against a heavyweight spaceship on a 1024 grid", t, func() {
		spec := scenario()

		Convey("When the battle runs 1000 steps", func() {
			res, err := battle.Battle(context.Background(), spec)

			Convey("Then the spaceship region holds strictly more energy", func() {
				So(err, ShouldBeNil)
				So(res.EnergyB, ShouldBeGreaterThan, res.EnergyA)
				So(res.Winner, ShouldEqual, spec.B.ID)
				So(res.Loser(), ShouldEqual, spec.A.ID)
				So(res.Draw, ShouldBeFalse)
				So(res.Steps, ShouldEqual, 1000)
				So(res.FinalDigest.IsZero(), ShouldBeFalse)
			})

			Convey("Then a second run is identical", func() {
				again, err := battle.Battle(context.Background(), spec)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, res)
			})
		})
	})
}

func TestBattle_MirroredDraw(t *testing.T) {
	Convey("Given identical gliders at mirrored spawn points", t, func() {
		a, b := battle.SpawnPoints(ca.SizeCompact)
		spec := battle.Spec{
			A:      battle.Contender{ID: id(9), Pattern: glider.Glider},
			B:      battle.Contender{ID: id(3), Pattern: glider.Glider},
			SpawnA: a,
			SpawnB: b,
			Steps:  200,
			Size:   ca.SizeCompact,
		}

		Convey("When the battle runs", func() {
			res, err := battle.Battle(context.Background(), spec)

			Convey("Then it is a draw resolved to the lower identity", func() {
				So(err, ShouldBeNil)
				So(res.EnergyA, ShouldEqual, res.EnergyB)
				So(res.Draw, ShouldBeTrue)
				So(res.Winner, ShouldEqual, id(3))
			})
		})
	})
}

func TestBattle_Rejections(t *testing.T) {
	Convey("Given invalid battle specs", t, func() {
		base := battle.Spec{
			A:      battle.Contender{ID: id(1), Pattern: glider.Glider},
			B:      battle.Contender{ID: id(2), Pattern: glider.Glider},
			SpawnA: types.Point{X: 10, Y: 10},
			SpawnB: types.Point{X: 11, Y: 10},
			Steps:  10,
			Size:   ca.SizeCompact,
		}

		Convey("When the patterns overlap", func() {
			_, err := battle.Battle(context.Background(), base)

			Convey("Then a placement error is returned", func() {
				So(errors.Is(err, battle.ErrPlacementOverlap), ShouldBeTrue)
			})
		})

		Convey("When the patterns overlap across the seam", func() {
			spec := base
			spec.SpawnA = types.Point{X: 63, Y: 63}
			spec.SpawnB = types.Point{X: 127, Y: 63}
			_, err := battle.Battle(context.Background(), spec)

			Convey("Then wrapping is applied before the check", func() {
				So(errors.Is(err, battle.ErrPlacementOverlap), ShouldBeTrue)
			})
		})

		Convey("When the spec is malformed", func() {
			noSteps := base
			noSteps.SpawnB = types.Point{X: 40, Y: 40}
			noSteps.Steps = -1

			badSize := base
			badSize.SpawnB = types.Point{X: 40, Y: 40}
			badSize.Size = 100

			self := base
			self.SpawnB = types.Point{X: 40, Y: 40}
			self.B.ID = self.A.ID

			badPattern := base
			badPattern.SpawnB = types.Point{X: 40, Y: 40}
			badPattern.B.Pattern = glider.Pattern{Energy: 0}

			Convey("Then ErrInvalidSpec is returned", func() {
				for _, spec := range []battle.Spec{noSteps, badSize, self, badPattern} {
					_, err := battle.Battle(context.Background(), spec)
					So(errors.Is(err, battle.ErrInvalidSpec), ShouldBeTrue)
				}
			})
		})

		Convey("When the context is already cancelled", func() {
			spec := base
			spec.SpawnB = types.Point{X: 40, Y: 40}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := battle.Battle(ctx, spec)

			Convey("Then the cancellation is reported", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestBattle_Concurrent(t *testing.T) {
	Convey("Given one simulator shared across goroutines", t, func() {
		sim := battle.NewSimulator(battle.WithEngine(ca.NewEngine(ca.WithParallelism(4))))
		a, b := battle.SpawnPoints(ca.SizeStandard)
		spec := battle.Spec{
			A:      battle.Contender{ID: id(1), Pattern: glider.LWSS},
			B:      battle.Contender{ID: id(2), Pattern: glider.MWSS},
			SpawnA: a,
			SpawnB: b,
			Steps:  300,
			Size:   ca.SizeStandard,
		}
		want, err := sim.Battle(context.Background(), spec)
		So(err, ShouldBeNil)

		Convey("When battles run in parallel", func() {
			results := make([]battle.Result, 8)
			errs := make([]error, 8)
			var wg sync.WaitGroup
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = sim.Battle(context.Background(), spec)
				}(i)
			}
			wg.Wait()

			Convey("Then every result matches the sequential one", func() {
				for i := range results {
					So(errs[i], ShouldBeNil)
					So(results[i], ShouldResemble, want)
				}
			})
		})
	})
}

func TestReplay(t *testing.T) {
	Convey("Given a short battle", t, func() {
		a, b := battle.SpawnPoints(ca.SizeCompact)
		spec := battle.Spec{
			A:      battle.Contender{ID: id(1), Pattern: glider.Glider},
			B:      battle.Contender{ID: id(2), Pattern: glider.LWSS},
			SpawnA: a,
			SpawnB: b,
			Steps:  25,
			Size:   ca.SizeCompact,
		}

		Convey("When it is replayed", func() {
			tr, err := battle.Replay(context.Background(), spec)
			So(err, ShouldBeNil)

			Convey("Then every generation is recorded", func() {
				So(len(tr.Frames), ShouldEqual, 26)
				So(tr.Frames[0].Generation, ShouldEqual, 0)
				So(len(tr.Frames[0].Cells), ShouldEqual, 14)
				So(tr.Frames[25].Generation, ShouldEqual, 25)
			})

			Convey("Then the result matches a direct battle", func() {
				res, err := battle.Battle(context.Background(), spec)
				So(err, ShouldBeNil)
				So(tr.Result, ShouldResemble, res)
			})
		})
	})
}
