package common

import "strconv"

// RollingWindow is a bounded, gapless, index-addressed cache. Items are
// appended with strictly increasing indexes; when the window holds twice its
// nominal size it rolls, discarding the oldest half. Reads below the oldest
// cached index fail with TooLate.
type RollingWindow[T any] struct {
	name      string
	size      int
	lastIndex int
	items     []T
}

// NewRollingWindow creates a RollingWindow with 2*size capacity.
func NewRollingWindow[T any](name string, size int) *RollingWindow[T] {
	return &RollingWindow[T]{
		name:      name,
		size:      size,
		items:     make([]T, 0, 2*size),
		lastIndex: -1,
	}
}

// GetLastWindow returns the cached items and the index of the last one.
func (r *RollingWindow[T]) GetLastWindow() (lastWindow []T, lastIndex int) {
	return r.items, r.lastIndex
}

// Get returns all items with index above skipIndex.
func (r *RollingWindow[T]) Get(skipIndex int) ([]T, error) {
	res := make([]T, 0)

	if skipIndex > r.lastIndex {
		return res, nil
	}

	cachedItems := len(r.items)
	//assume there are no gaps between indexes
	oldestCachedIndex := r.lastIndex - cachedItems + 1
	if skipIndex+1 < oldestCachedIndex {
		return res, NewCodedErr(TooLate, r.name, strconv.Itoa(skipIndex))
	}

	//index of 'skipped' in the window
	start := skipIndex - oldestCachedIndex + 1

	return r.items[start:], nil
}

// GetItem returns the item at a given index.
func (r *RollingWindow[T]) GetItem(index int) (T, error) {
	var zero T
	items := len(r.items)
	oldestCached := r.lastIndex - items + 1
	if index < oldestCached {
		return zero, NewCodedErr(TooLate, r.name, strconv.Itoa(index))
	}
	findex := index - oldestCached
	if findex >= items {
		return zero, NewCodedErr(KeyNotFound, r.name, strconv.Itoa(index))
	}
	return r.items[findex], nil
}

// Set inserts an item at index lastIndex+1, or replaces an item that is
// still inside the window. Inserting further ahead would create a gap and
// fails with SkippedIndex.
func (r *RollingWindow[T]) Set(item T, index int) error {
	if 0 <= r.lastIndex && index > r.lastIndex+1 {
		return NewCodedErr(SkippedIndex, r.name, strconv.Itoa(index))
	}

	//adding a new item
	if r.lastIndex < 0 || (index == r.lastIndex+1) {
		if len(r.items) >= 2*r.size {
			r.roll()
		}
		r.items = append(r.items, item)
		r.lastIndex = index
		return nil
	}

	//replacing an existing item; make sure the index is not below the
	//oldest cached item
	cachedItems := len(r.items)
	oldestCachedIndex := r.lastIndex - cachedItems + 1

	if index < oldestCachedIndex {
		return NewCodedErr(TooLate, r.name, strconv.Itoa(index))
	}

	position := index - oldestCachedIndex
	r.items[position] = item

	return nil
}

func (r *RollingWindow[T]) roll() {
	newList := make([]T, 0, 2*r.size)
	newList = append(newList, r.items[r.size:]...)
	r.items = newList
}
