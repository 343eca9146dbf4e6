package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/fluentops/internal/adapters/http/api"
	service "github.com/okian/fluentops/internal/app"
	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWith(io.Discard, logger.FormatText)
	os.Exit(m.Run())
}

// fakeDeps returns canned results so status mapping can be checked in isolation.
type fakeDeps struct {
	createErr error
	getErr    error
	listErr   error
	streamErr error
	events    []model.Event
	lastSince int64
	lastPage  int
	lastLimit int
}

func (f *fakeDeps) CreateAssessment(_ context.Context, _ string, _ service.SubmitRequest) (service.Submission, error) {
	if f.createErr != nil {
		return service.Submission{}, f.createErr
	}
	return service.Submission{AssessmentID: "a-1", TraceID: "t-1", StreamURL: "/v1/assessments/a-1/stream"}, nil
}

func (f *fakeDeps) GetAssessment(_ context.Context, owner, id string) (*model.Assessment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Assessment{ID: id, OwnerID: owner, InputKind: model.InputText, InputText: "hi", Status: model.StatusQueued}, nil
}

func (f *fakeDeps) ListAssessments(_ context.Context, _ string, page, limit int) ([]model.Assessment, error) {
	f.lastPage, f.lastLimit = page, limit
	return nil, f.listErr
}

func (f *fakeDeps) StreamAssessment(_ context.Context, _, _ string, since int64) (iter.Seq[model.Event], error) {
	f.lastSince = since
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return func(yield func(model.Event) bool) {
		for _, ev := range f.events {
			if !yield(ev) {
				return
			}
		}
	}, nil
}

func (f *fakeDeps) Balance(context.Context, string) (int64, error) { return 4, nil }

func (f *fakeDeps) GetStats(context.Context) service.Stats { return service.Stats{Started: true, Workers: 2} }

func (f *fakeDeps) Started() bool { return true }

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps).Register(mux)
	return mux
}

func do(mux http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body.Code
}

func TestErrorMapping(t *testing.T) {
	Convey("Given handlers over fake dependencies", t, func() {
		deps := &fakeDeps{}
		mux := newMux(deps)

		Convey("When the caller has no identity", func() {
			rec := do(mux, http.MethodGet, "/v1/assessments", "", "")

			Convey("Then it is 401", func() {
				So(rec.Code, ShouldEqual, http.StatusUnauthorized)
				So(errorCode(rec), ShouldEqual, "unauthenticated")
			})
		})

		Convey("When the body is not JSON", func() {
			rec := do(mux, http.MethodPost, "/v1/assessments", "alice", "{nope")

			Convey("Then it is 400", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		statusCases := []struct {
			err    error
			status int
			code   string
		}{
			{service.ErrValidation, http.StatusBadRequest, "bad_request"},
			{service.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
			{service.ErrBackpressure, http.StatusTooManyRequests, "backpressure"},
			{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable"},
		}
		for _, tc := range statusCases {
			Convey("When submission fails with "+tc.err.Error(), func() {
				deps.createErr = tc.err
				rec := do(mux, http.MethodPost, "/v1/assessments", "alice", `{"inputKind":"text","text":"hi"}`)

				Convey("Then the status is mapped", func() {
					So(rec.Code, ShouldEqual, tc.status)
					So(errorCode(rec), ShouldEqual, tc.code)
				})
			})
		}

		Convey("When an unexpected error carries internal detail", func() {
			deps.getErr = errors.New("dial tcp 10.0.0.5:5432: secret host")
			rec := do(mux, http.MethodGet, "/v1/assessments/a-1", "alice", "")

			Convey("Then it is 500 without the detail", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(rec.Body.String(), ShouldNotContainSubstring, "secret")
			})
		})

		Convey("When the assessment is someone else's", func() {
			deps.getErr = service.ErrNotFound
			rec := do(mux, http.MethodGet, "/v1/assessments/a-1", "mallory", "")

			Convey("Then it is 404", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When listing with paging parameters", func() {
			rec := do(mux, http.MethodGet, "/v1/assessments?page=3&limit=7", "alice", "")

			Convey("Then they are passed through", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(deps.lastPage, ShouldEqual, 3)
				So(deps.lastLimit, ShouldEqual, 7)
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When a paging parameter is malformed", func() {
			rec := do(mux, http.MethodGet, "/v1/assessments?limit=-2", "alice", "")

			Convey("Then it is 400", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When reading the balance, stats and health", func() {
			credits := do(mux, http.MethodGet, "/v1/credits", "alice", "")
			stats := do(mux, http.MethodGet, "/stats", "", "")
			health := do(mux, http.MethodGet, "/healthz", "", "")
			metricsRec := do(mux, http.MethodGet, "/metrics", "", "")

			Convey("Then each answers", func() {
				So(credits.Code, ShouldEqual, http.StatusOK)
				So(credits.Body.String(), ShouldContainSubstring, `"credits":4`)
				So(stats.Body.String(), ShouldContainSubstring, `"workers":2`)
				So(health.Body.String(), ShouldContainSubstring, `"ok"`)
				So(metricsRec.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestStreamFrames(t *testing.T) {
	Convey("Given a stream of two events", t, func() {
		deps := &fakeDeps{events: []model.Event{
			{Seq: 0, Kind: model.EventProgress, Payload: json.RawMessage(`{"stage":"diagnose","percent":5}`)},
			{Seq: 1, Kind: model.EventError, Payload: json.RawMessage(`{"message":"assessment could not be completed"}`)},
		}}
		mux := newMux(deps)

		Convey("When streaming without a cursor", func() {
			rec := do(mux, http.MethodGet, "/v1/assessments/a-1/stream", "alice", "")

			Convey("Then it replays from -1 as SSE frames", func() {
				So(deps.lastSince, ShouldEqual, -1)
				So(rec.Header().Get("Content-Type"), ShouldEqual, "text/event-stream")
				So(rec.Body.String(), ShouldEqual,
					"id: 0\nevent: progress\ndata: {\"stage\":\"diagnose\",\"percent\":5}\n\n"+
						"id: 1\nevent: error\ndata: {\"message\":\"assessment could not be completed\"}\n\n")
			})
		})

		Convey("When resuming with Last-Event-ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/v1/assessments/a-1/stream", nil)
			req.Header.Set(api.UserHeader, "alice")
			req.Header.Set("Last-Event-ID", "0")
			deps.lastSince = 99
			mux.ServeHTTP(httptest.NewRecorder(), req)

			Convey("Then the header is the cursor", func() {
				So(deps.lastSince, ShouldEqual, 0)
			})
		})

		Convey("When the cursor is malformed", func() {
			rec := do(mux, http.MethodGet, "/v1/assessments/a-1/stream?since=-5", "alice", "")

			Convey("Then it is 400", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the assessment is not the caller's", func() {
			deps.streamErr = service.ErrNotFound
			rec := do(mux, http.MethodGet, "/v1/assessments/a-1/stream", "mallory", "")

			Convey("Then it is 404 and no stream starts", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(rec.Header().Get("Content-Type"), ShouldNotEqual, "text/event-stream")
			})
		})
	})
}

func TestEndToEnd(t *testing.T) {
	Convey("Given the API over a running service", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithCapability(capability.NewMock(capability.WithLatencyRange(0, 0)), service.ProviderMock),
			service.WithPollBounds(5*time.Millisecond, 20*time.Millisecond),
			service.WithSeedCredits(map[string]int64{"alice": 2}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		srv := httptest.NewServer(newMux(svc))
		Reset(func() {
			srv.Close()
			_ = svc.Stop(ctx)
		})

		request := func(method, path, user, body string) *http.Response {
			req, err := http.NewRequestWithContext(ctx, method, srv.URL+path, strings.NewReader(body))
			So(err, ShouldBeNil)
			req.Header.Set(api.UserHeader, user)
			resp, err := srv.Client().Do(req)
			So(err, ShouldBeNil)
			return resp
		}

		Convey("When alice submits and follows the stream URL", func() {
			resp := request(http.MethodPost, "/v1/assessments", "alice", `{"inputKind":"text","text":"I has a apple","goals":["work"]}`)
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			var sub service.Submission
			So(json.NewDecoder(resp.Body).Decode(&sub), ShouldBeNil)
			_ = resp.Body.Close()

			stream := request(http.MethodGet, sub.StreamURL, "alice", "")
			defer func() { _ = stream.Body.Close() }()

			var kinds []string
			sc := bufio.NewScanner(stream.Body)
			for sc.Scan() {
				if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
					kinds = append(kinds, name)
				}
			}

			Convey("Then eight progress frames are followed by one final frame", func() {
				So(kinds, ShouldHaveLength, 9)
				So(kinds[8], ShouldEqual, "final")
				for _, k := range kinds[:8] {
					So(k, ShouldEqual, "progress")
				}
			})

			Convey("Then the assessment reads back succeeded with its rubric", func() {
				get := request(http.MethodGet, "/v1/assessments/"+sub.AssessmentID, "alice", "")
				defer func() { _ = get.Body.Close() }()
				var view api.AssessmentView
				So(json.NewDecoder(get.Body).Decode(&view), ShouldBeNil)
				So(view.Status, ShouldEqual, model.StatusSucceeded)
				So(view.InputKind, ShouldEqual, "text")
				So(view.Rubric, ShouldHaveLength, 5)
				So(view.FeedbackText, ShouldNotBeEmpty)
			})

			Convey("Then one credit is spent once the run settles", func() {
				var body []byte
				for range 200 {
					bal := request(http.MethodGet, "/v1/credits", "alice", "")
					body, _ = io.ReadAll(bal.Body)
					_ = bal.Body.Close()
					if strings.Contains(string(body), `"credits":1`) {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(string(body), ShouldContainSubstring, `"credits":1`)
			})
		})

		Convey("When a user without credits submits", func() {
			resp := request(http.MethodPost, "/v1/assessments", "bob", `{"inputKind":"text","text":"hello"}`)
			_ = resp.Body.Close()

			Convey("Then it is 402 and bob has no assessments", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusPaymentRequired)
				list := request(http.MethodGet, "/v1/assessments", "bob", "")
				defer func() { _ = list.Body.Close() }()
				body, _ := io.ReadAll(list.Body)
				So(strings.TrimSpace(string(body)), ShouldEqual, "[]")
			})
		})
	})
}
