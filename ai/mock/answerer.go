// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/poiesic/attrcat/ai"
)

// MockAnswerer is a test double for ai.Answerer.
type MockAnswerer struct {
	// AnswerFunc is called by Answer if set.
	// If nil, echoes the question and the first line of each passage.
	AnswerFunc func(ctx context.Context, question string, passages []string) (string, error)

	mu       sync.Mutex
	calls    int
	passages [][]string
}

var _ ai.Answerer = (*MockAnswerer)(nil)

// NewMockAnswerer creates a mock answerer with default behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockAnswerer() *MockAnswerer {
	return &MockAnswerer{}
}

// Answer records the call and returns a deterministic answer.
func (m *MockAnswerer) Answer(ctx context.Context, question string, passages []string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.passages = append(m.passages, passages)
	m.mu.Unlock()

	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, question, passages)
	}
	if err := ctx.Err(); err != nil {
		return "", ai.NewPermanentError(err)
	}

	heads := make([]string, len(passages))
	for i, p := range passages {
		heads[i], _, _ = strings.Cut(p, "\n")
	}
	return fmt.Sprintf("%s => %s", question, strings.Join(heads, "; ")), nil
}

// CallCount returns the number of times Answer was called.
func (m *MockAnswerer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastPassages returns the passages of the most recent call.
func (m *MockAnswerer) LastPassages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.passages) == 0 {
		return nil
	}
	return m.passages[len(m.passages)-1]
}
