package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/fluentops/internal/adapters/capability/gemini"
	"github.com/okian/fluentops/internal/domain/capability"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClientInvoke(t *testing.T) {
	Convey("Given a fake Gemini endpoint", t, func() {
		var (
			path string
			body map[string]any
		)
		reply := `{"candidates":[{"content":{"role":"model","parts":[{"text":"[\"drill\"]"}]}}]}`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(reply))
		}))
		defer srv.Close()

		ctx := context.Background()
		c, err := gemini.New(ctx, "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("gemini-test"))
		So(err, ShouldBeNil)

		Convey("When a stage is invoked", func() {
			out, err := c.Invoke(ctx, capability.PromptSet{Stage: "drills", System: "coach", User: "Issues: []"})

			Convey("Then the generated text is returned", func() {
				So(err, ShouldBeNil)
				So(out, ShouldEqual, `["drill"]`)
				So(path, ShouldContainSubstring, "gemini-test:generateContent")
				So(body, ShouldContainKey, "systemInstruction")
			})
		})

		Convey("When the model returns no text", func() {
			reply = `{"candidates":[]}`
			_, err := c.Invoke(ctx, capability.PromptSet{Stage: "drills"})

			Convey("Then it is an empty-reply error", func() {
				So(errors.Is(err, capability.ErrEmptyReply), ShouldBeTrue)
			})
		})
	})

	Convey("Given no API key", t, func() {
		_, err := gemini.New(context.Background(), "")

		Convey("Then construction fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
