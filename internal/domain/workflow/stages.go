package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/internal/domain/model"
)

// Stage names, in execution order.
const (
	StageDiagnose = "diagnose"
	StageRewrite  = "rewrite"
	StageDrills   = "drills"
	StageScore    = "score"
)

const defaultGoal = "general improvement"

// stage is one pipeline step: the progress bounds it reports, how it builds its
// prompt from the accumulated state, and how it folds the reply back in.
type stage struct {
	name   string
	before int
	after  int
	prompt func(s *runState) capability.PromptSet
	apply  func(s *runState, reply string) error
}

// runState accumulates stage outputs.
type runState struct {
	input    model.Input
	issues   []string
	rewrites []string
	drills   []string
	rubric   model.Rubric
	feedback string
}

func (s *runState) result() model.FinalPayload {
	return model.FinalPayload{
		Rubric:       s.rubric,
		Issues:       s.issues,
		Rewrites:     s.rewrites,
		Drills:       s.drills,
		FeedbackText: s.feedback,
	}
}

// pipeline is the fixed stage order with its progress table.
var pipeline = []stage{ //nolint:gochecknoglobals // fixed pipeline definition
	{
		name: StageDiagnose, before: 5, after: 25,
		prompt: func(s *runState) capability.PromptSet {
			return capability.PromptSet{
				Stage:  StageDiagnose,
				System: "You are an English language coach. Analyze the following text and return a JSON array of grammar, vocabulary, and expression issues. Each item should be a short string describing the issue. Return ONLY a JSON array.",
				User:   s.input.Text,
			}
		},
		apply: func(s *runState, reply string) (err error) {
			s.issues, err = parseList(reply)
			return err
		},
	},
	{
		name: StageRewrite, before: 30, after: 50,
		prompt: func(s *runState) capability.PromptSet {
			return capability.PromptSet{
				Stage:  StageRewrite,
				System: "You are an English language coach. Given the original text and its issues, provide 2-3 natural rewrites. Return ONLY a JSON array of strings.",
				User:   fmt.Sprintf("Original: %s\nIssues: %s", s.input.Text, jsonList(s.issues)),
			}
		},
		apply: func(s *runState, reply string) (err error) {
			s.rewrites, err = parseList(reply)
			return err
		},
	},
	{
		name: StageDrills, before: 55, after: 75,
		prompt: func(s *runState) capability.PromptSet {
			return capability.PromptSet{
				Stage:  StageDrills,
				System: "You are an English language coach. Based on the issues found, generate 3 practice exercises. Return ONLY a JSON array of strings, each being a drill/exercise prompt.",
				User:   "Issues: " + jsonList(s.issues),
			}
		},
		apply: func(s *runState, reply string) (err error) {
			s.drills, err = parseList(reply)
			return err
		},
	},
	{
		name: StageScore, before: 80, after: 95,
		prompt: func(s *runState) capability.PromptSet {
			goals := strings.Join(s.input.Goals, ", ")
			if goals == "" {
				goals = defaultGoal
			}
			return capability.PromptSet{
				Stage: StageScore,
				System: `You are an English language coach. Score the original text on these dimensions (0-100): grammar, vocab, fluency, clarity, naturalness. Also write a short markdown summary. ` +
					`Return ONLY JSON: {"rubric":{"grammar":N,"vocab":N,"fluency":N,"clarity":N,"naturalness":N},"feedback":"...markdown..."}`,
				User: fmt.Sprintf("Original: %s\nGoals: %s", s.input.Text, goals),
			}
		},
		apply: func(s *runState, reply string) (err error) {
			s.rubric, s.feedback, err = parseScore(reply)
			return err
		},
	},
}

// StageNames lists the pipeline stages in order.
func StageNames() []string {
	names := make([]string, len(pipeline))
	for i, st := range pipeline {
		names[i] = st.name
	}
	return names
}

// ProgressBounds returns the before/after percentages reported around stage.
func ProgressBounds(stage string) (before, after int, ok bool) {
	for _, st := range pipeline {
		if st.name == stage {
			return st.before, st.after, true
		}
	}
	return 0, 0, false
}

func parseList(reply string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(stripFence(reply)), &items); err != nil {
		return nil, fmt.Errorf("%w: want a JSON array of strings: %w", ErrStageParse, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: null array", ErrStageParse)
	}
	return items, nil
}

func parseScore(reply string) (model.Rubric, string, error) {
	var scored struct {
		Rubric   map[string]*float64 `json:"rubric"`
		Feedback *string             `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFence(reply)), &scored); err != nil {
		return nil, "", fmt.Errorf("%w: want a rubric object: %w", ErrStageParse, err)
	}
	rubric := make(model.Rubric, len(model.RubricDimensions))
	for _, dim := range model.RubricDimensions {
		v, ok := scored.Rubric[dim]
		if !ok || v == nil {
			return nil, "", fmt.Errorf("%w: rubric missing %q", ErrStageParse, dim)
		}
		rubric[dim] = *v
	}
	if scored.Feedback == nil || strings.TrimSpace(*scored.Feedback) == "" {
		return nil, "", fmt.Errorf("%w: feedback missing", ErrStageParse)
	}
	return rubric, *scored.Feedback, nil
}

// stripFence removes a surrounding markdown code fence some models add.
func stripFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
