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


package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/attrcat/core"
)

var (
	// ErrNotFound indicates that the requested document was not found.
	ErrNotFound = errors.New("document not found")

	// ErrIndexNotFound indicates that no index exists under the requested name.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists indicates that an index with the requested name already exists.
	ErrIndexExists = errors.New("index already exists")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrInvalidDocument indicates a document that cannot be stored.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidFilter indicates a malformed metadata filter.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")
)

// IndexExistsError is returned by CreateIndex when the name is taken.
// Existing holds the descriptor the store already has.
type IndexExistsError struct {
	Existing core.IndexDescriptor
}

func (e *IndexExistsError) Error() string {
	return fmt.Sprintf("index %q already exists (dimension=%d metric=%s m=%d efConstruction=%d)",
		e.Existing.Name, e.Existing.Dimension, e.Existing.Metric, e.Existing.M, e.Existing.EFConstruction)
}

func (e *IndexExistsError) Unwrap() error {
	return ErrIndexExists
}
