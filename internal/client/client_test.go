package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/fluentops/internal/client"
	"github.com/smartystreets/goconvey/convey"
)

func TestClientRequests(t *testing.T) {
	convey.Convey("Given a server that records requests", t, func() {
		var gotUser, gotPath, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser = r.Header.Get(client.UserHeader)
			gotPath = r.URL.RequestURI()
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			b, _ := json.Marshal(body)
			gotBody = string(b)

			switch r.URL.Path {
			case "/v1/assessments":
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusAccepted)
					_, _ = fmt.Fprint(w, `{"assessmentId":"a-1","traceId":"t-1","streamUrl":"/v1/assessments/a-1/stream"}`)
					return
				}
				_, _ = fmt.Fprint(w, `[{"id":"a-1","status":"QUEUED"}]`)
			case "/v1/credits":
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = fmt.Fprint(w, `{"code":"insufficient_credits","message":"insufficient credits"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()
		c := client.New(srv.URL+"/", "alice")
		ctx := context.Background()

		convey.Convey("When submitting", func() {
			sub, err := c.Submit(ctx, client.SubmitRequest{InputKind: "text", Text: "hi", Goals: []string{"work"}})

			convey.Convey("Then the body and identity are sent and the submission decoded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub.AssessmentID, convey.ShouldEqual, "a-1")
				convey.So(gotUser, convey.ShouldEqual, "alice")
				convey.So(gotBody, convey.ShouldEqual, `{"goals":["work"],"inputKind":"text","text":"hi"}`)
			})
		})

		convey.Convey("When listing as another user with paging", func() {
			list, err := c.As("bob").List(ctx, 2, 5)

			convey.Convey("Then the query and identity follow", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(list, convey.ShouldHaveLength, 1)
				convey.So(gotUser, convey.ShouldEqual, "bob")
				convey.So(gotPath, convey.ShouldEqual, "/v1/assessments?limit=5&page=2")
			})
		})

		convey.Convey("When the server refuses", func() {
			_, err := c.Balance(ctx)

			convey.Convey("Then the API error is decoded", func() {
				convey.So(client.StatusOf(err), convey.ShouldEqual, http.StatusPaymentRequired)
				convey.So(err.Error(), convey.ShouldContainSubstring, "insufficient_credits")
			})
		})

		convey.Convey("When the path is unknown", func() {
			_, err := c.Get(ctx, "missing")

			convey.Convey("Then the status is still reported", func() {
				convey.So(client.StatusOf(err), convey.ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestClientStream(t *testing.T) {
	convey.Convey("Given an SSE server", t, func() {
		var since string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			since = r.URL.Query().Get("since")
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprint(w,
				"id: 3\nevent: progress\ndata: {\"stage\":\"rewrite\",\"percent\":50}\n\n"+
					": comment lines are ignored\n\n"+
					"id: 4\nevent: final\ndata: {\"feedbackText\":\"ok\"}\n\n"+
					"id: 5\nevent: progress\ndata: {}\n\n")
		}))
		defer srv.Close()
		c := client.New(srv.URL, "alice")

		convey.Convey("When streaming from a cursor", func() {
			var evs []client.Event
			for ev, err := range c.Stream(context.Background(), "a-1", 2) {
				convey.So(err, convey.ShouldBeNil)
				evs = append(evs, ev)
			}

			convey.Convey("Then frames decode and the sequence ends on the terminal event", func() {
				convey.So(since, convey.ShouldEqual, "2")
				convey.So(evs, convey.ShouldHaveLength, 2)
				convey.So(evs[0].Seq, convey.ShouldEqual, 3)
				convey.So(evs[0].Kind, convey.ShouldEqual, "progress")
				convey.So(string(evs[0].Data), convey.ShouldEqual, `{"stage":"rewrite","percent":50}`)
				convey.So(evs[1].Terminal(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a stream the server refuses", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"code":"not_found","message":"not found"}`)
		}))
		defer srv.Close()

		convey.Convey("Then the error is yielded once", func() {
			n := 0
			for _, err := range client.New(srv.URL, "mallory").Stream(context.Background(), "a-1", -1) {
				n++
				convey.So(client.StatusOf(err), convey.ShouldEqual, http.StatusNotFound)
			}
			convey.So(n, convey.ShouldEqual, 1)
		})
	})
}
