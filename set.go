package trackmodel

import (
	"iter"
	"slices"
)

// orderedSet is a set that remembers insertion order, so that everything
// derived from it (change records, analyzer inputs) is reproducible.
//
// The zero value is ready for use.
type orderedSet[T comparable] struct {
	index map[T]int
	items []T
}

func newOrderedSet[T comparable](items ...T) *orderedSet[T] {
	s := &orderedSet[T]{}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

// Add inserts v and reports whether it was absent.
func (s *orderedSet[T]) Add(v T) bool {
	if s.index == nil {
		s.index = make(map[T]int)
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// Remove deletes v and reports whether it was present.
func (s *orderedSet[T]) Remove(v T) bool {
	i, ok := s.index[v]
	if !ok {
		return false
	}
	delete(s.index, v)
	s.items = slices.Delete(s.items, i, i+1)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

func (s *orderedSet[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet[T]) Len() int {
	return len(s.items)
}

// Items returns a copy of the members in insertion order.
func (s *orderedSet[T]) Items() []T {
	return slices.Clone(s.items)
}

func (s *orderedSet[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.items {
			if !yield(v) {
				return
			}
		}
	}
}

func (s *orderedSet[T]) Clear() {
	s.index = nil
	s.items = nil
}
