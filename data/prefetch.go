package data

import "context"

// Prefetch assembles batches from it on a separate goroutine, keeping up to
// depth ready ahead of the consumer. The channel closes when the pass ends
// or ctx is cancelled.
func Prefetch(ctx context.Context, it *Iterator, depth int) <-chan Batch {
	if depth < 1 {
		depth = 1
	}
	out := make(chan Batch, depth)
	go func() {
		defer close(out)
		for {
			b, ok := it.Next()
			if !ok {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
