package store

import "context"

// Persister loads and saves the known-item snapshot wholesale.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// SubscriberPersister loads and saves the subscriber registry wholesale.
type SubscriberPersister interface {
	LoadSubscribers(ctx context.Context) (Subscribers, error)
	SaveSubscribers(ctx context.Context, subs Subscribers) error
}
