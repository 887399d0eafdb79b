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


// Package ai provides abstractions for the embedding provider used by attrcat.
//
// The package defines the Embedder contract and the provider error taxonomy.
// Pipeline code depends on these abstractions rather than on a concrete
// provider client.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder) return
// INTERFACE types to enforce abstraction:
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder) return CONCRETE types so
// tests can inject behavior and assert on calls:
//
//	mockEmbed := mock.NewMockEmbedder(384)  // returns *mock.MockEmbedder
//	count := mockEmbed.CallCount()
//
// # Provider Errors
//
// Every embedding failure is reported as a *ProviderError of kind Transient
// (rate limit, timeout, provider unavailable) or Permanent (bad request,
// authentication, token limit, wrong vector width). Callers retry only
// transient errors:
//
//	if ai.IsTransient(err) {
//	    // back off and try again
//	}
package ai
