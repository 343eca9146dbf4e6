package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/fluentops/internal/adapters/capability/openai"
	"github.com/okian/fluentops/internal/domain/capability"
	. "github.com/smartystreets/goconvey/convey"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Body          struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float32 `json:"temperature"`
	}
}

func TestClientInvoke(t *testing.T) {
	Convey("Given an OpenAI-compatible server", t, func() {
		var got capturedRequest
		status := http.StatusOK
		reply := `{"choices":[{"message":{"role":"assistant","content":"[\"issue\"]"},"finish_reason":"stop"}]}`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.Path = r.URL.Path
			got.Authorization = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&got.Body)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply))
		}))
		defer srv.Close()

		c := openai.New("sk-test",
			openai.WithBaseURL(srv.URL),
			openai.WithModel("gpt-test"),
			openai.WithTemperature(0.2),
		)
		prompt := capability.PromptSet{Stage: "diagnose", System: "be a coach", User: "I goed"}

		Convey("When the call succeeds", func() {
			out, err := c.Invoke(context.Background(), prompt)

			Convey("Then the request carries both prompts and the reply content is returned", func() {
				So(err, ShouldBeNil)
				So(out, ShouldEqual, `["issue"]`)
				So(got.Path, ShouldEqual, "/v1/chat/completions")
				So(got.Authorization, ShouldEqual, "Bearer sk-test")
				So(got.Body.Model, ShouldEqual, "gpt-test")
				So(got.Body.Temperature, ShouldAlmostEqual, 0.2, 0.0001)
				So(len(got.Body.Messages), ShouldEqual, 2)
				So(got.Body.Messages[0].Role, ShouldEqual, "system")
				So(got.Body.Messages[0].Content, ShouldEqual, "be a coach")
				So(got.Body.Messages[1].Content, ShouldEqual, "I goed")
			})
		})

		Convey("When the server rejects the call", func() {
			status = http.StatusTooManyRequests
			reply = `{"error":"slow down"}`
			_, err := c.Invoke(context.Background(), prompt)

			Convey("Then the status is reported", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "429")
			})
		})

		Convey("When the reply has no content", func() {
			reply = `{"choices":[]}`
			_, err := c.Invoke(context.Background(), prompt)

			Convey("Then it is an empty-reply error", func() {
				So(errors.Is(err, capability.ErrEmptyReply), ShouldBeTrue)
			})
		})
	})
}
