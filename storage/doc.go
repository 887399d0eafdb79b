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


// Package storage provides the document store abstraction for the catalog.
//
// A DocumentStore keeps one document per canonical key and maintains named
// approximate nearest-neighbor indexes over the documents' embeddings. The
// contract is backend-neutral: any ANN implementation able to create named
// indexes, replace documents by key, and answer filtered vector queries can
// satisfy it.
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.DocumentStore interface to keep
// consumers decoupled from the backend:
//
//	store, err := badger.NewStore("/path/to/db")  // returns storage.DocumentStore
//
// Internal package constructors (newBackend, newIndexRegistry, etc.) may return
// concrete types since they're only used within the implementation package.
//
// # Indexes
//
// An index covers every document whose embedding width equals the index
// dimension. Creating an index over a populated store indexes the existing
// documents. Index parameters are immutable: CreateIndex on a taken name fails
// with *IndexExistsError carrying the existing descriptor.
//
// # Filters
//
// Filter is a conjunction of clauses over document metadata. Search applies it
// as a hard filter: a document that fails it is never returned.
//
// # Usage
//
//	store, err := badger.NewStore("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	res, err := store.Search(ctx, storage.SearchRequest{
//	    Index:         "attributes",
//	    Vector:        vec,
//	    Limit:         5,
//	    NumCandidates: 75,
//	    Filter:        storage.NewFilter(storage.Eq("criticality", "High")),
//	})
package storage
