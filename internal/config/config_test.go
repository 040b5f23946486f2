package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/arena/internal/config"
	"github.com/okian/arena/internal/domain/ca"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.GridSize, convey.ShouldEqual, 1024)
			convey.So(cfg.BattleSteps, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.SeedWindow, convey.ShouldEqual, 8)
			convey.So(cfg.TrustAlpha, convey.ShouldEqual, 0.4)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then it converts to domain configuration", func() {
			tc := cfg.Tournament()
			convey.So(tc.GridSize, convey.ShouldEqual, ca.SizeStandard)
			convey.So(tc.CommitWindow, convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.TrustParams().NegativeStep, convey.ShouldEqual, 3.0)
			convey.So(cfg.BlockInterval(), convey.ShouldEqual, 10*time.Second)
		})
	})
}
