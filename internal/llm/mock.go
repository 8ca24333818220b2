package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

// MockClient is the deterministic substitute used when TEST_MODE=demo.
// Responses depend only on the prompt content, so demo investigations
// replay identically.
type MockClient struct {
	calls atomic.Int64

	// Responses, when set, overrides the canned substring matching.
	Responses map[string]string
	// Fail, when set, makes every call return this error.
	Fail error
}

// NewMockClient creates the demo LLM.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int64 {
	return m.calls.Load()
}

// Complete implements Client deterministically.
func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.calls.Add(1)
	if m.Fail != nil {
		return "", m.Fail
	}

	for needle, response := range m.Responses {
		if strings.Contains(userPrompt, needle) {
			return response, nil
		}
	}

	switch {
	case strings.Contains(userPrompt, "narrative"):
		return "The observed activity is consistent with coordinated misuse of the investigated entity.", nil
	case strings.Contains(userPrompt, "summarize"):
		return "Summary: elevated risk indicators across the analyzed window.", nil
	default:
		h := fnv.New32a()
		h.Write([]byte(userPrompt))
		return fmt.Sprintf("Assessment %08x: no additional findings.", h.Sum32()), nil
	}
}
