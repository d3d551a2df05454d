package zam

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrDuplicateCase is returned when a case map would hold a key twice.
var ErrDuplicateCase = errors.New("zam: duplicate case label")

// CaseMap is a switch jump table for one discriminant type: keys sorted
// ascending, each mapped to an instruction index.
type CaseMap[K cmp.Ordered] struct {
	keys    []K
	targets []int
}

// NewCaseMap builds a case map. Keys must be unique.
func NewCaseMap[K cmp.Ordered](keys []K, targets []int) (*CaseMap[K], error) {
	if len(keys) != len(targets) {
		return nil, fmt.Errorf("zam: case map has %d keys and %d targets", len(keys), len(targets))
	}
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	m := &CaseMap[K]{keys: make([]K, len(keys)), targets: make([]int, len(keys))}
	for i, j := range idx {
		m.keys[i], m.targets[i] = keys[j], targets[j]
		if i > 0 && m.keys[i-1] == m.keys[i] {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateCase, keys[j])
		}
	}
	return m, nil
}

// Lookup returns the target for k.
func (m *CaseMap[K]) Lookup(k K) (int, bool) {
	i, found := slices.BinarySearch(m.keys, k)
	if !found {
		return 0, false
	}
	return m.targets[i], true
}

// Len returns the number of keys.
func (m *CaseMap[K]) Len() int { return len(m.keys) }

// Entries calls fn for each key in ascending order.
func (m *CaseMap[K]) Entries(fn func(k K, target int)) {
	for i, k := range m.keys {
		fn(k, m.targets[i])
	}
}

// Targets returns every jump target in key order.
func (m *CaseMap[K]) Targets() []int { return m.targets }
