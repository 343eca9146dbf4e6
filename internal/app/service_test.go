package service_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	service "github.com/okian/fluentops/internal/app"
	"github.com/okian/fluentops/internal/adapters/capability/openai"
	"github.com/okian/fluentops/internal/adapters/repository"
	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWith(io.Discard, logger.FormatText)
	os.Exit(m.Run())
}

func instantMock() capability.Capability {
	return capability.NewMock(capability.WithLatencyRange(0, 0))
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it runs on the mock and is not started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Started(), ShouldBeFalse)
			stats := svc.GetStats(context.Background())
			So(stats.Capability, ShouldEqual, service.ProviderMock)
			So(stats.QueueCapacity, ShouldEqual, service.DefaultQueueSize)
			So(stats.RunTimeoutMS, ShouldEqual, (5 * time.Minute).Milliseconds())
		})

		Convey("Then submissions are refused until it starts", func() {
			_, err := svc.CreateAssessment(context.Background(), "alice", service.SubmitRequest{InputKind: "text", Text: "hi"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)

			_, err = svc.StreamAssessment(context.Background(), "alice", "x", -1)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(3),
			service.WithQueueSize(7),
			service.WithRunTimeout(time.Second),
			service.WithCapability(instantMock(), "custom"),
		)

		Convey("Then the options are reflected in its stats", func() {
			stats := svc.GetStats(context.Background())
			So(stats.Workers, ShouldEqual, 3)
			So(stats.QueueCapacity, ShouldEqual, 7)
			So(stats.RunTimeoutMS, ShouldEqual, 1000)
			So(stats.Capability, ShouldEqual, "custom")
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store), service.WithWorkerCount(2))
		ctx := context.Background()

		Convey("When starting it twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it reports started with its workers", func() {
				stats := svc.GetStats(ctx)
				So(stats.Started, ShouldBeTrue)
				So(stats.Workers, ShouldEqual, 2)
				So(stats.QueueLength, ShouldEqual, 0)
			})

			Convey("Then stopping closes the store and is idempotent", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Started(), ShouldBeFalse)

				_, err := store.Balance(ctx, "alice")
				So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestService_SeedCredits(t *testing.T) {
	Convey("Given seed credits", t, func() {
		store := repository.NewMemoryStore()
		ctx := context.Background()
		seed := map[string]int64{"alice": 3, "bob": 1, "": 9, "carol": 0}

		Convey("When two services start on the same store", func() {
			first := service.New(service.WithStore(store), service.WithSeedCredits(seed))
			So(first.Start(ctx), ShouldBeNil)
			second := service.New(service.WithStore(store), service.WithSeedCredits(seed))
			So(second.Start(ctx), ShouldBeNil)

			Convey("Then each user is granted once", func() {
				alice, err := second.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(alice, ShouldEqual, 3)
				bob, _ := second.Balance(ctx, "bob")
				So(bob, ShouldEqual, 1)
				carol, _ := second.Balance(ctx, "carol")
				So(carol, ShouldEqual, 0)
			})

			Reset(func() {
				_ = first.Stop(ctx)
				_ = second.Stop(ctx)
			})
		})
	})
}

func TestService_Validation(t *testing.T) {
	Convey("Given a started service and a user with credits", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithCapability(instantMock(), service.ProviderMock),
			service.WithSeedCredits(map[string]int64{"alice": 5}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		cases := []struct {
			name string
			user string
			req  service.SubmitRequest
		}{
			{"unknown input kind", "alice", service.SubmitRequest{InputKind: "video", Text: "hi"}},
			{"text kind without text", "alice", service.SubmitRequest{InputKind: "text", Text: "   "}},
			{"recording kind without a reference", "alice", service.SubmitRequest{InputKind: "recording"}},
			{"missing user", "", service.SubmitRequest{InputKind: "text", Text: "hi"}},
		}
		for _, tc := range cases {
			Convey("When submitting with "+tc.name, func() {
				_, err := svc.CreateAssessment(ctx, tc.user, tc.req)

				Convey("Then it is a validation error and nothing is stored", func() {
					So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
					list, lerr := svc.ListAssessments(ctx, "alice", 1, 0)
					So(lerr, ShouldBeNil)
					So(list, ShouldBeEmpty)
				})
			})
		}

		Convey("When submitting a recording with a reference", func() {
			sub, err := svc.CreateAssessment(ctx, "alice", service.SubmitRequest{
				InputKind:    "RECORDING",
				RecordingRef: "rec-42",
				Goals:        []string{" travel ", ""},
			})

			Convey("Then it is accepted with its input normalized", func() {
				So(err, ShouldBeNil)
				a, ferr := svc.GetAssessment(ctx, "alice", sub.AssessmentID)
				So(ferr, ShouldBeNil)
				So(a.RecordingRef, ShouldEqual, "rec-42")
				So(a.Goals, ShouldResemble, []string{"travel"})
			})
		})
	})
}

func TestService_ListAssessments(t *testing.T) {
	Convey("Given a user with five submissions", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithCapability(instantMock(), service.ProviderMock),
			service.WithSeedCredits(map[string]int64{"alice": 100}),
			service.WithPageSizes(2, 3),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		var ids []string
		for range 5 {
			sub, err := svc.CreateAssessment(ctx, "alice", service.SubmitRequest{InputKind: "text", Text: "hello"})
			So(err, ShouldBeNil)
			ids = append(ids, sub.AssessmentID)
			time.Sleep(2 * time.Millisecond)
		}

		Convey("Then the default page is the newest two", func() {
			page, err := svc.ListAssessments(ctx, "alice", 0, 0)
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 2)
			So(page[0].ID, ShouldEqual, ids[4])
			So(page[1].ID, ShouldEqual, ids[3])
		})

		Convey("Then the limit is capped at the maximum page size", func() {
			page, err := svc.ListAssessments(ctx, "alice", 1, 50)
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 3)
		})

		Convey("Then later pages continue where the previous ended", func() {
			page, err := svc.ListAssessments(ctx, "alice", 3, 2)
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 1)
			So(page[0].ID, ShouldEqual, ids[0])
		})

		Convey("Then other users see nothing", func() {
			page, err := svc.ListAssessments(ctx, "bob", 1, 10)
			So(err, ShouldBeNil)
			So(page, ShouldBeEmpty)

			_, err = svc.GetAssessment(ctx, "bob", ids[0])
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestNewBackend(t *testing.T) {
	Convey("Given backend configurations", t, func() {
		ctx := context.Background()

		Convey("When the provider is mock or empty", func() {
			for _, p := range []string{"", "mock", "MOCK"} {
				c, name, err := service.NewBackend(ctx, service.BackendConfig{Provider: p})
				So(err, ShouldBeNil)
				So(name, ShouldEqual, service.ProviderMock)
				So(c, ShouldHaveSameTypeAs, &capability.Mock{})
			}
		})

		Convey("When a live provider has no API key", func() {
			for _, p := range []string{service.ProviderOpenAI, service.ProviderGemini} {
				c, name, err := service.NewBackend(ctx, service.BackendConfig{Provider: p})

				Convey("Then "+p+" falls back to the mock", func() {
					So(err, ShouldBeNil)
					So(name, ShouldEqual, service.ProviderMock)
					So(c, ShouldHaveSameTypeAs, &capability.Mock{})
				})
			}
		})

		Convey("When OpenAI has a key", func() {
			c, name, err := service.NewBackend(ctx, service.BackendConfig{
				Provider:     "openai",
				OpenAIAPIKey: "sk-test",
				Model:        "gpt-4o-mini",
			})

			Convey("Then the live client is used", func() {
				So(err, ShouldBeNil)
				So(name, ShouldEqual, service.ProviderOpenAI)
				So(c, ShouldHaveSameTypeAs, &openai.Client{})
			})
		})

		Convey("When the provider is unknown", func() {
			_, _, err := service.NewBackend(ctx, service.BackendConfig{Provider: "llama"})

			Convey("Then it is an error", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
