package common

// Any reports whether at least one element of items satisfies predicate.
func Any[T any](items []T, predicate func(T) bool) bool {
	for _, item := range items {
		if predicate(item) {
			return true
		}
	}
	return false
}

// Count returns how many elements of items satisfy predicate.
func Count[T any](items []T, predicate func(T) bool) int {
	count := 0
	for _, item := range items {
		if predicate(item) {
			count++
		}
	}
	return count
}

// Filter returns the elements of items that satisfy predicate, in order.
func Filter[T any](items []T, predicate func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if predicate(item) {
			out = append(out, item)
		}
	}
	return out
}
