package sequence

import "context"

// CounterRepository is the keyed counter store.
type CounterRepository interface {
	// NextValue increments the counter for key under an exclusive row lock,
	// creating the row at 1 on first use, and returns the issued value.
	// It must run inside the caller's transaction so the lock is held until
	// the document using the value is committed.
	NextValue(ctx context.Context, key Key) (int64, error)

	// Current returns the last issued value, or 0 if none was issued.
	Current(ctx context.Context, key Key) (int64, error)
}
