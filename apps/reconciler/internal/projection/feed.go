package projection

import (
	"context"
	"sync"
)

// Feed fans out changes to live subscribers
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error)
	Close() error
}

type localSub struct {
	pred Predicate
	ch   chan Change
}

// LocalFeed is an in-process Feed
type LocalFeed struct {
	mu     sync.Mutex
	subs   map[Collection]map[*localSub]struct{}
	closed bool
}

// NewLocalFeed creates an in-process feed
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[Collection]map[*localSub]struct{})}
}

// Publish delivers change to every matching subscriber without blocking
func (f *LocalFeed) Publish(ctx context.Context, change Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs[change.Collection] {
		if sub.pred.Matches(change.Document) {
			offer(sub.ch, change)
		}
	}
	return nil
}

// Subscribe registers a subscriber for one collection
func (f *LocalFeed) Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error) {
	sub := &localSub{pred: p, ch: make(chan Change, 1)}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(sub.ch)
		return newSubscription(sub.ch, func() {}), nil
	}
	if f.subs[c] == nil {
		f.subs[c] = make(map[*localSub]struct{})
	}
	f.subs[c][sub] = struct{}{}

	return newSubscription(sub.ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[c][sub]; ok {
			delete(f.subs[c], sub)
			close(sub.ch)
		}
	}), nil
}

// SubscriberCount returns the number of live subscribers on a collection
func (f *LocalFeed) SubscriberCount(c Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[c])
}

// Close ends every subscription
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for c, subs := range f.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(f.subs, c)
	}
	f.closed = true
	return nil
}
