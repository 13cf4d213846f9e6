/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package measure

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by Store.Add when the id is already present.
var ErrDuplicateID = errors.New("duplicate measurement id")

// Store is the ordered list of committed measurements. It is owned by a single session and
// not safe for concurrent use.
type Store struct {
	items []Measurement
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Add appends a copy of m, preserving insertion order. Measurements leave the store as
// copies too, so a committed calibration snapshot cannot be changed from outside.
func (s *Store) Add(m Measurement) error {
	if s.index(m.ID) >= 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateID, m.ID)
	}
	s.items = append(s.items, m.clone())
	return nil
}

// RemoveByID deletes the measurement with the given id and reports whether it was present.
func (s *Store) RemoveByID(id ID) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// Clear removes every measurement.
func (s *Store) Clear() { s.items = nil }

// Get returns the measurement with the given id.
func (s *Store) Get(id ID) (Measurement, bool) {
	if i := s.index(id); i >= 0 {
		return s.items[i].clone(), true
	}
	return Measurement{}, false
}

// All returns a copy of the measurements in insertion order.
func (s *Store) All() []Measurement {
	out := make([]Measurement, len(s.items))
	for i, m := range s.items {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of measurements.
func (s *Store) Len() int { return len(s.items) }

func (s *Store) index(id ID) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
