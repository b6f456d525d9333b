package tier

import (
	"fmt"
	"math"

	"github.com/google/btree"

	"kasirinaja/terminal/internal/domain"
)

type Entry[T any] struct {
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
	Payload   T       `json:"payload" mapstructure:"payload"`
}

// Table resolves a key to the entry with the highest threshold not above it.
// Keys below every threshold resolve to the smallest entry, so Lookup never fails.
type Table[T any] struct {
	tree     *btree.BTreeG[Entry[T]]
	smallest Entry[T]
}

func lessEntry[T any](a, b Entry[T]) bool {
	return a.Threshold < b.Threshold
}

func New[T any](entries ...Entry[T]) (*Table[T], error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("tier table is empty: %w", domain.ErrInvalidConfiguration)
	}

	tree := btree.NewG[Entry[T]](8, lessEntry[T])
	for i, entry := range entries {
		if math.IsNaN(entry.Threshold) {
			return nil, fmt.Errorf("tier entry %d has NaN threshold: %w", i, domain.ErrInvalidConfiguration)
		}
		if i > 0 && entry.Threshold <= entries[i-1].Threshold {
			return nil, fmt.Errorf("tier thresholds must be unique and ascending (entry %d: %v after %v): %w",
				i, entry.Threshold, entries[i-1].Threshold, domain.ErrInvalidConfiguration)
		}
		tree.ReplaceOrInsert(entry)
	}

	return &Table[T]{tree: tree, smallest: entries[0]}, nil
}

func MustNew[T any](entries ...Entry[T]) *Table[T] {
	table, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return table
}

func (t *Table[T]) Lookup(key float64) T {
	return t.Match(key).Payload
}

func (t *Table[T]) Match(key float64) Entry[T] {
	if math.IsNaN(key) {
		return t.smallest
	}

	matched := t.smallest
	t.tree.DescendLessOrEqual(Entry[T]{Threshold: key}, func(item Entry[T]) bool {
		matched = item
		return false
	})
	return matched
}

func (t *Table[T]) Len() int {
	return t.tree.Len()
}

// Entries returns the table contents in ascending threshold order.
func (t *Table[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, t.tree.Len())
	t.tree.Ascend(func(item Entry[T]) bool {
		out = append(out, item)
		return true
	})
	return out
}
