package loadtest

import (
	"fmt"

	"github.com/okian/fluentops/internal/client"
)

var sampleTexts = []string{ //nolint:gochecknoglobals // fixed corpus
	"I go to school yesterday and buyed a book.",
	"She don't like coffee but she drink it every morning.",
	"We was planning to visit London on next summer.",
	"He have been working here since five years.",
	"Can you explain me how this machine work?",
	"The informations in this report is not correct.",
	"I am agree with your opinion about the meeting.",
	"They arrived to the airport lately because of traffic.",
}

var sampleGoals = [][]string{ //nolint:gochecknoglobals // fixed corpus
	nil,
	{"travel"},
	{"job interview", "presentations"},
	{"small talk"},
}

// request builds the i-th submission; mostly text, with an occasional recording.
func request(i int) client.SubmitRequest {
	goals := sampleGoals[i%len(sampleGoals)]
	if i%10 == 9 {
		return client.SubmitRequest{
			InputKind:    "recording",
			RecordingRef: fmt.Sprintf("rec-%06d", i),
			Goals:        goals,
		}
	}
	return client.SubmitRequest{
		InputKind: "text",
		Text:      sampleTexts[i%len(sampleTexts)],
		Goals:     goals,
	}
}

// userFor spreads submissions over the configured users.
func userFor(i, users int) string {
	if users < 1 {
		users = 1
	}
	return fmt.Sprintf("load-user-%d", i%users)
}
