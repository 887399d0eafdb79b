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


package feed

import "errors"

var (
	// ErrUnsupportedFormat is returned for a file extension no adapter handles.
	ErrUnsupportedFormat = errors.New("unsupported feed format")

	// ErrMissingHeader is returned for a delimited file without a header row.
	ErrMissingHeader = errors.New("missing header row")

	// ErrFieldCount marks a delimited row whose width differs from the header.
	ErrFieldCount = errors.New("wrong number of fields")

	// ErrNotObject marks a JSON line that is not an object.
	ErrNotObject = errors.New("json line is not an object")
)
