package identity

import (
	"context"
	"sync"
)

// Broadcaster keeps the current credential of a store and fans changes out
// to watchers. Each watcher sees the latest state only: an unread event is
// replaced by a newer one.
type Broadcaster struct {
	mu      sync.Mutex
	current *Credential
	subs    map[chan CredentialEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan CredentialEvent]struct{})}
}

// Current returns a copy of the current credential, or nil.
func (b *Broadcaster) Current() *Credential {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyCredential(b.current)
}

// Set replaces the current credential and notifies watchers.
func (b *Broadcaster) Set(cred *Credential) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = copyCredential(cred)
	for ch := range b.subs {
		deliver(ch, CredentialEvent{Credential: copyCredential(b.current)})
	}
}

func (b *Broadcaster) Watch(ctx context.Context) <-chan CredentialEvent {
	ch := make(chan CredentialEvent, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- CredentialEvent{Credential: copyCredential(b.current)}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Watchers reports the number of live subscriptions.
func (b *Broadcaster) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// deliver must be called with the broadcaster lock held.
func deliver(ch chan CredentialEvent, ev CredentialEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func copyCredential(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	c := *cred
	return &c
}
