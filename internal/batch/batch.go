// Package batch splits submissions into fixed-size processing batches.
package batch

import "errors"

// ErrInvalidBatchSize is returned for a non-positive batch size. This is a
// caller error and fails before any I/O happens.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// Split chunks items in input order into contiguous groups of size; the last
// group may be shorter. The result shares backing arrays with items.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidBatchSize
	}

	if len(items) == 0 {
		return nil, nil
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out, nil
}
