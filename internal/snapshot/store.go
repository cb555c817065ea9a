package snapshot

import "context"

// Store is the persistence contract: Load once at startup, Persist after
// every mutation. Persist must be atomic and durable before it returns.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Persist(ctx context.Context, patch Patch) error
}
