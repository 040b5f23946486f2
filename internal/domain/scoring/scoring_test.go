package scoring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/arena/internal/domain/ca"
	scoring "github.com/okian/arena/internal/domain/scoring"
	"github.com/okian/arena/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegionScorer_Score(t *testing.T) {
	Convey("Given a region scorer on a 64 grid", t, func() {
		scorer := scoring.NewRegionScorer()
		a := types.Point{X: 16, Y: 32}
		b := types.Point{X: 48, Y: 32}

		Convey("When cells sit next to each spawn", func() {
			in := scoring.Input{
				Size:   64,
				SpawnA: a,
				SpawnB: b,
				Cells: []ca.LiveCell{
					{X: 17, Y: 32, Energy: 10},
					{X: 15, Y: 30, Energy: 5},
					{X: 50, Y: 33, Energy: 7},
				},
			}

			Convey("Then energy is summed per nearest spawn", func() {
				res, err := scorer.Score(context.Background(), in)
				So(err, ShouldBeNil)
				So(res.EnergyA, ShouldEqual, 15)
				So(res.EnergyB, ShouldEqual, 7)
				So(res.CellsA, ShouldEqual, 2)
				So(res.CellsB, ShouldEqual, 1)
				So(res.Neutral, ShouldEqual, 0)
			})
		})

		Convey("When a cell is equidistant", func() {
			in := scoring.Input{
				Size:   64,
				SpawnA: a,
				SpawnB: b,
				Cells:  []ca.LiveCell{{X: 32, Y: 10, Energy: 9}, {X: 0, Y: 32, Energy: 4}},
			}

			Convey("Then it counts for neither side", func() {
				res, err := scorer.Score(context.Background(), in)
				So(err, ShouldBeNil)
				So(res.EnergyA, ShouldEqual, 0)
				So(res.EnergyB, ShouldEqual, 0)
				So(res.Neutral, ShouldEqual, 13)
			})
		})

		Convey("When distance wraps around the torus", func() {
			Convey("Then the short way round is used", func() {
				So(scoring.Distance2(64, types.Point{X: 0, Y: 0}, 63, 0), ShouldEqual, 1)
				So(scoring.Distance2(64, types.Point{X: 2, Y: 62}, 61, 1), ShouldEqual, 9+9)
				So(scoring.Region(64, a, b, 63, 32), ShouldEqual, scoring.SideB)
				So(scoring.Region(64, a, b, 1, 32), ShouldEqual, scoring.SideA)
			})
		})

		Convey("When the input is invalid", func() {
			_, errSize := scorer.Score(context.Background(), scoring.Input{SpawnA: a, SpawnB: b})
			_, errSpawn := scorer.Score(context.Background(), scoring.Input{Size: 64, SpawnA: a, SpawnB: a})

			Convey("Then ErrInvalidInput is returned", func() {
				So(errors.Is(errSize, scoring.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errSpawn, scoring.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			Convey("Then it should return context error", func() {
				_, err := scorer.Score(ctx, scoring.Input{Size: 64, SpawnA: a, SpawnB: b})
				So(err, ShouldEqual, context.Canceled)
			})
		})

		Convey("When printing sides", func() {
			So(scoring.SideA.String(), ShouldEqual, "a")
			So(scoring.SideB.String(), ShouldEqual, "b")
			So(scoring.Neutral.String(), ShouldEqual, "neutral")
		})
	})
}
