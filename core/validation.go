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
	"fmt"
	"math"
)

// ValidateIndexDescriptor validates an IndexDescriptor according to domain rules.
//
// Validation rules:
//   - Name must not be empty
//   - Dimension must be positive
//   - Metric must be cosine, euclidean or dotProduct (empty means cosine)
//   - M must be at least 2, EFConstruction and EFSearch must not be negative
func ValidateIndexDescriptor(d IndexDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIndexDescriptor)
	}
	if d.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidIndexDescriptor, d.Dimension)
	}
	d = d.WithDefaults()
	if !d.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidIndexDescriptor, d.Metric)
	}
	if d.M < 2 {
		return fmt.Errorf("%w: m must be at least 2, got %d", ErrInvalidIndexDescriptor, d.M)
	}
	if d.EFConstruction < 0 || d.EFSearch < 0 {
		return fmt.Errorf("%w: ef parameters must not be negative", ErrInvalidIndexDescriptor)
	}
	return nil
}

// ValidateVector checks that v is non-empty, finite and, when dim > 0, of width dim.
func ValidateVector(v []float32, dim int) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(v))
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}
