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


package query

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrIndexNameRequired is returned when no index name is provided.
	ErrIndexNameRequired = errors.New("index name required")

	// ErrEmbedderRequired is returned by SearchText when no embedder was configured.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrAnswererRequired is returned when answer generation is not configured.
	ErrAnswererRequired = errors.New("answerer required")

	// ErrInvalidOversample is returned for an oversample factor below 1.
	ErrInvalidOversample = errors.New("oversample factor must be at least 1")
)
