package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerJSON(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, FormatJSON), ShouldBeNil)
		So(SetLevelString("info"), ShouldBeNil)

		Convey("When logging with fields through a named child", func() {
			Named("workflow").With(String("assessment_id", "a1")).
				Error(context.Background(), "stage failed", Error(errors.New("boom")), Int("attempt", 2))

			Convey("Then the record carries every attribute", func() {
				var rec map[string]any
				So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "stage failed")
				So(rec["logger"], ShouldEqual, "workflow")
				So(rec["assessment_id"], ShouldEqual, "a1")
				So(rec["error"], ShouldEqual, "boom")
				So(rec["attempt"], ShouldEqual, float64(2))
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level filters a record", func() {
			Get().Debug(context.Background(), "hidden")
			So(buf.Len(), ShouldEqual, 0)
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level names", t, func() {
		So(SetLevelString("DEBUG"), ShouldBeNil)
		So(Level(), ShouldEqual, slog.LevelDebug)
		So(SetLevelString("warning"), ShouldBeNil)
		So(Level(), ShouldEqual, slog.LevelWarn)
		err := SetLevelString("loud")
		So(err, ShouldNotBeNil)
		So(strings.Contains(err.Error(), "loud"), ShouldBeTrue)
		So(InitWith(&bytes.Buffer{}, Format("xml")), ShouldNotBeNil)
		_ = SetLevelString("info")
	})
}
