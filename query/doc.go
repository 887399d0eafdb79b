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


// Package query serves hybrid queries over the catalog: approximate
// nearest-neighbor search combined with a hard metadata filter.
//
// The Engine asks the store for more candidates than requested so that a
// filter can still fill the result. When the filtered result comes back
// short and the index holds more documents than were examined, the candidate
// pool is doubled and the query retried until the whole index is covered.
// Every returned hit satisfies the filter.
package query
