// Package capability abstracts the text-generation backend the workflow stages call.
package capability

import "context"

// PromptSet is one request to the backend: a system instruction and a user message.
// Stage names the workflow step that issued it.
type PromptSet struct {
	Stage  string
	System string
	User   string
}

// Capability turns a prompt set into structured text (JSON for every workflow stage).
type Capability interface {
	// Invoke honors ctx for cancellation and deadlines.
	Invoke(ctx context.Context, p PromptSet) (string, error)
}

// Func adapts a plain function to Capability.
type Func func(ctx context.Context, p PromptSet) (string, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, p PromptSet) (string, error) {
	return f(ctx, p)
}
