package types_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	types "github.com/okian/arena/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParticipantID(t *testing.T) {
	Convey("Given participant identities", t, func() {
		var low, high types.ParticipantID
		low[0] = 0x01
		high[0] = 0x02

		Convey("When comparing them", func() {
			Convey("Then ordering is bytewise", func() {
				So(low.Less(high), ShouldBeTrue)
				So(high.Less(low), ShouldBeFalse)
				So(low.Compare(low), ShouldEqual, 0)
			})
		})

		Convey("When round-tripping through hex", func() {
			parsed, err := types.ParseParticipantID(high.String())

			Convey("Then the identity is preserved", func() {
				So(err, ShouldBeNil)
				So(parsed, ShouldEqual, high)
			})
		})

		Convey("When parsing malformed input", func() {
			_, errShort := types.ParseParticipantID("abcd")
			_, errHex := types.ParseParticipantID(strings.Repeat("zz", types.IDLength))

			Convey("Then ErrInvalidID is returned", func() {
				So(errors.Is(errShort, types.ErrInvalidID), ShouldBeTrue)
				So(errors.Is(errHex, types.ErrInvalidID), ShouldBeTrue)
			})
		})

		Convey("When encoding to JSON", func() {
			out, err := json.Marshal(map[string]types.ParticipantID{"id": low})
			So(err, ShouldBeNil)

			var back map[string]types.ParticipantID
			So(json.Unmarshal(out, &back), ShouldBeNil)

			Convey("Then the text form is used", func() {
				So(string(out), ShouldContainSubstring, low.String())
				So(back["id"], ShouldEqual, low)
			})
		})

		Convey("When sorting a set", func() {
			ids := []types.ParticipantID{high, low}
			types.SortIDs(ids)

			Convey("Then the lower identity comes first", func() {
				So(ids[0], ShouldEqual, low)
				So(ids[1], ShouldEqual, high)
				So(types.ParticipantID{}.IsZero(), ShouldBeTrue)
			})
		})
	})
}
