package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/okian/arena/internal/adapters/http/api"
	"github.com/okian/arena/internal/adapters/mq/transport"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func pid(b byte) types.ParticipantID {
	var p types.ParticipantID
	p[0] = b
	return p
}

// mockNode implements api.Dependencies.
type mockNode struct {
	sessions     map[uint64]*tournament.Snapshot
	traces       map[string]*battle.Trace
	views        map[types.ParticipantID]types.TrustView
	eligible     []types.ParticipantID
	replayErr    error
	broadcastErr error
	broadcast    []model.Message
}

func newMockNode() *mockNode {
	return &mockNode{
		sessions: map[uint64]*tournament.Snapshot{},
		traces:   map[string]*battle.Trace{},
		views:    map[types.ParticipantID]types.TrustView{},
	}
}

func (m *mockNode) State(_ context.Context, height uint64) (*tournament.Snapshot, error) {
	if s, ok := m.sessions[height]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: height %d", tournament.ErrUnknownSession, height)
}

func (m *mockNode) Replay(_ context.Context, height uint64, pairing string) (*battle.Trace, error) {
	if _, ok := m.sessions[height]; !ok {
		return nil, tournament.ErrUnknownSession
	}
	if m.replayErr != nil {
		return nil, m.replayErr
	}
	if tr, ok := m.traces[pairing]; ok {
		return tr, nil
	}
	return nil, tournament.ErrUnknownPairing
}

func (m *mockNode) Trust(id types.ParticipantID) (types.TrustView, error) {
	if v, ok := m.views[id]; ok {
		return v, nil
	}
	return types.TrustView{}, trust.ErrUnknownParticipant
}

func (m *mockNode) EligibleSet() []types.ParticipantID { return m.eligible }

func (m *mockNode) Broadcast(_ context.Context, msg model.Message) error { //nolint:gocritic // hugeParam
	if m.broadcastErr != nil {
		return m.broadcastErr
	}
	m.broadcast = append(m.broadcast, msg)
	return nil
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

func newMux(node *mockNode) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(node, &mockStatsProvider{stats: map[string]any{"height": 9}}).Register(mux)
	return mux
}

func get(mux *http.ServeMux, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(newMockNode())

		Convey("When scraping health", func() {
			w := get(mux, "/healthz")

			Convey("Then the metrics exposition is served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When requesting stats", func() {
			w := get(mux, "/stats")

			Convey("Then the provider output is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["height"], ShouldEqual, 9.0)
			})
		})

		Convey("When requesting an unknown path", func() {
			w := get(mux, "/scores")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestTournamentHandler(t *testing.T) {
	Convey("Given a node with one finished session", t, func() {
		node := newMockNode()
		node.sessions[42] = &tournament.Snapshot{Height: 42, Phase: tournament.PhaseFinalized, Round: 2}
		node.traces["r1-0"] = &battle.Trace{
			Frames: []battle.Frame{{Generation: 0}, {Generation: 1}},
			Result: battle.Result{A: pid(1), B: pid(2), Winner: pid(1), EnergyA: 10},
		}
		mux := newMux(node)

		Convey("When the session is requested", func() {
			w := get(mux, "/tournament/42")

			Convey("Then the snapshot is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap tournament.Snapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				So(snap.Height, ShouldEqual, 42)
				So(snap.Phase, ShouldEqual, tournament.PhaseFinalized)
			})
		})

		Convey("When the height is unknown or malformed", func() {
			Convey("Then 404 and 400 are returned", func() {
				So(get(mux, "/tournament/7").Code, ShouldEqual, http.StatusNotFound)
				So(get(mux, "/tournament/abc").Code, ShouldEqual, http.StatusBadRequest)
				So(get(mux, "/tournament/").Code, ShouldEqual, http.StatusBadRequest)
				So(get(mux, "/tournament/1/2").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a replay is requested as JSON", func() {
			w := get(mux, "/replay/42/r1-0")

			Convey("Then the trace is returned uncompressed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Encoding"), ShouldBeEmpty)
				var tr battle.Trace
				So(json.Unmarshal(w.Body.Bytes(), &tr), ShouldBeNil)
				So(len(tr.Frames), ShouldEqual, 2)
				So(tr.Result.Winner, ShouldEqual, pid(1))
			})
		})

		Convey("When a replay is requested with zstd", func() {
			w := get(mux, "/replay/42/r1-0", "Accept-Encoding", "gzip, zstd;q=0.9")

			Convey("Then the body is a zstd stream of the trace", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Encoding"), ShouldEqual, "zstd")
				dec, err := zstd.NewReader(bytes.NewReader(w.Body.Bytes()))
				So(err, ShouldBeNil)
				defer dec.Close()
				var tr battle.Trace
				So(json.NewDecoder(dec).Decode(&tr), ShouldBeNil)
				So(len(tr.Frames), ShouldEqual, 2)
			})
		})

		Convey("When the pairing is unknown", func() {
			Convey("Then 404 is returned", func() {
				So(get(mux, "/replay/42/r9-9").Code, ShouldEqual, http.StatusNotFound)
				So(get(mux, "/replay/42").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When too many replays are already running", func() {
			node.replayErr = fmt.Errorf("%w: limit 2", tournament.ErrReplayBusy)
			w := get(mux, "/replay/42/r1-0")

			Convey("Then 429 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "busy")
			})
		})

		Convey("When a non-GET request is sent", func() {
			req := httptest.NewRequest(http.MethodPost, "/tournament/42", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestTrustHandler(t *testing.T) {
	Convey("Given a node with one registered participant", t, func() {
		node := newMockNode()
		node.views[pid(1)] = types.TrustView{Participant: pid(1), Trust: 0.4, Bond: 10, Eligible: true}
		node.eligible = []types.ParticipantID{pid(1)}
		mux := newMux(node)

		Convey("When its trust is requested", func() {
			w := get(mux, "/trust/"+pid(1).String())

			Convey("Then the view is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var v types.TrustView
				So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
				So(v.Trust, ShouldEqual, 0.4)
				So(v.Eligible, ShouldBeTrue)
			})
		})

		Convey("When an unknown or malformed id is requested", func() {
			Convey("Then 404 and 400 are returned", func() {
				So(get(mux, "/trust/"+pid(2).String()).Code, ShouldEqual, http.StatusNotFound)
				So(get(mux, "/trust/zz").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the eligible set is requested", func() {
			w := get(mux, "/eligible")

			Convey("Then it lists the participant", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, pid(1).String())
				So(w.Body.String(), ShouldContainSubstring, `"count":1`)
			})
		})

		Convey("When nobody is eligible", func() {
			node.eligible = nil
			w := get(mux, "/eligible")

			Convey("Then an empty list is returned", func() {
				So(w.Body.String(), ShouldContainSubstring, `"participants":[]`)
			})
		})
	})
}

func TestMessagesHandler(t *testing.T) {
	Convey("Given a messages handler", t, func() {
		node := newMockNode()
		mux := newMux(node)
		post := func(body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			return w
		}
		commit := fmt.Sprintf(`{"kind":"commit","height":3,"round":1,"participant":%q,"commitment":%q}`,
			pid(1).String(), types.Digest{7}.String())

		Convey("When a commit is posted", func() {
			w := post(commit)

			Convey("Then it is accepted and broadcast", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(len(node.broadcast), ShouldEqual, 1)
				So(node.broadcast[0].Kind, ShouldEqual, model.KindCommit)
				So(node.broadcast[0].Participant, ShouldEqual, pid(1))
			})
		})

		Convey("When the body is not JSON", func() {
			Convey("Then 400 is returned", func() {
				So(post("{").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the transport reports an outcome", func() {
			cases := []struct {
				err  error
				code int
			}{
				{fmt.Errorf("%w: m1", transport.ErrDuplicate), http.StatusOK},
				{fmt.Errorf("%w: no pattern", model.ErrInvalidMessage), http.StatusBadRequest},
				{transport.ErrBackpressure, http.StatusTooManyRequests},
				{transport.ErrClosed, http.StatusServiceUnavailable},
				{errors.New("boom"), http.StatusInternalServerError},
			}

			Convey("Then it is mapped to a status code", func() {
				for _, c := range cases {
					node.broadcastErr = c.err
					So(post(commit).Code, ShouldEqual, c.code)
				}
			})
		})

		Convey("When a GET is sent", func() {
			Convey("Then it is not found", func() {
				So(get(mux, "/messages").Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given a wrapped handler", t, func() {
		h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short"))
		}, "teapot")

		Convey("When it is served", func() {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/", nil))

			Convey("Then the response passes through", func() {
				So(w.Code, ShouldEqual, http.StatusTeapot)
				So(w.Body.String(), ShouldEqual, "short")
			})
		})
	})
}
