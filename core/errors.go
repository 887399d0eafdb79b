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


package core

import (
	"errors"
	"fmt"
)

// Error classes. Every typed error below matches exactly one of these with errors.Is.
var (
	// ErrConfiguration marks errors that abort a run before any processing.
	ErrConfiguration = errors.New("configuration error")

	// ErrRecord marks a rejected source record. Never fatal.
	ErrRecord = errors.New("record error")

	// ErrProvider marks an embedding provider failure for one entity.
	ErrProvider = errors.New("provider error")

	// ErrStoreWrite marks a failed write of one entity.
	ErrStoreWrite = errors.New("store write error")

	// ErrQueryPrecondition marks a query rejected before or by the backend
	// because its inputs or the index are unusable.
	ErrQueryPrecondition = errors.New("query precondition failed")
)

// Domain validation errors
var (
	// ErrMissingIdentifier indicates a record has none of its feed's identifier fields.
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrInvalidIndexDescriptor indicates an IndexDescriptor failed validation.
	ErrInvalidIndexDescriptor = errors.New("invalid index descriptor")

	// ErrEmptyVector indicates a nil or zero-length vector.
	ErrEmptyVector = errors.New("vector is empty")

	// ErrDimensionMismatch indicates a vector or index of the wrong width.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ConfigurationError is fatal: dimension mismatch, missing credentials,
// unreachable store.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// NewConfigurationError wraps err as a ConfigurationError for op.
func NewConfigurationError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// RecordError rejects a single source record.
type RecordError struct {
	Feed string
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record error: feed %s line %d: %v", e.Feed, e.Line, e.Err)
}

func (e *RecordError) Unwrap() []error {
	return []error{ErrRecord, e.Err}
}

// StoreWriteError is a failed upsert of one entity.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write error: key %q: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() []error {
	return []error{ErrStoreWrite, e.Err}
}

// QueryPreconditionError is fatal to a single query call only.
type QueryPreconditionError struct {
	Reason string
	Err    error
}

func (e *QueryPreconditionError) Error() string {
	if e.Err == nil {
		return "query precondition failed: " + e.Reason
	}
	return fmt.Sprintf("query precondition failed: %s: %v", e.Reason, e.Err)
}

func (e *QueryPreconditionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrQueryPrecondition}
	}
	return []error{ErrQueryPrecondition, e.Err}
}
