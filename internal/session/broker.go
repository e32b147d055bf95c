package session

import (
	"sync"
	"time"
)

type ChangeKind string

const (
	SignedIn  ChangeKind = "signed_in"
	SignedOut ChangeKind = "signed_out"
)

type Change struct {
	Kind ChangeKind
	User User
	At   time.Time
}

// Broker fans sign-in and sign-out changes out to subscribers. Sends never
// block; a full subscriber misses the change.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Change)}
}

// Subscribe returns the change channel and a cancel func that closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
