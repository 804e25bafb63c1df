// Package events carries session lifecycle notifications from the
// gateway to the rest of the application.
package events

import "sync"

// Kind identifies a lifecycle event. Events carry no payload beyond
// their kind.
type Kind string

const (
	// CredentialRenewed fires after every successful credential refresh.
	CredentialRenewed Kind = "credential_renewed"

	// SessionTerminated fires when the session is irrecoverable and both
	// credentials have been cleared. Subscribers typically force a
	// re-login.
	SessionTerminated Kind = "session_terminated"
)

// Bus is the publish side the gateway depends on. Publishing is
// fire-and-forget: it never blocks and never fails.
type Bus interface {
	Publish(kind Kind)
}

// subscriberBuffer is the per-subscriber channel capacity. Lifecycle
// events are rare; a burst larger than this means the subscriber stopped
// reading and further events are dropped for it.
const subscriberBuffer = 8

// Broadcaster is an in-process Bus that fans events out to subscriber
// channels.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[<-chan Kind]chan Kind
}

// NewBroadcaster creates a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[<-chan Kind]chan Kind)}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *Broadcaster) Subscribe() <-chan Kind {
	ch := make(chan Kind, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// with a channel that was already unsubscribed.
func (b *Broadcaster) Unsubscribe(ch <-chan Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[ch]
	if !ok {
		return
	}

	delete(b.subs, ch)
	close(sub)
}

// Publish delivers kind to every subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub <- kind:
		default:
		}
	}
}
