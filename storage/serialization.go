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
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/poiesic/attrcat/core"
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *Document) ([]byte, error) {
	data, err := gojson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: document %q: %v", ErrSerializationFailed, doc.Key, err)
	}
	return data, nil
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := gojson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: document: %v", ErrSerializationFailed, err)
	}
	return &doc, nil
}

// MarshalIndexDescriptor serializes an IndexDescriptor to bytes.
func MarshalIndexDescriptor(d core.IndexDescriptor) ([]byte, error) {
	data, err := gojson.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: index %q: %v", ErrSerializationFailed, d.Name, err)
	}
	return data, nil
}

// UnmarshalIndexDescriptor deserializes an IndexDescriptor from bytes.
func UnmarshalIndexDescriptor(data []byte) (core.IndexDescriptor, error) {
	var d core.IndexDescriptor
	if err := gojson.Unmarshal(data, &d); err != nil {
		return core.IndexDescriptor{}, fmt.Errorf("%w: index: %v", ErrSerializationFailed, err)
	}
	return d, nil
}
