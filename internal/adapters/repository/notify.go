package repository

import "sync"

// Broadcaster fans out "log changed" signals per assessment. Signals coalesce:
// a slow subscriber sees at most one pending value.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in id.
func (b *Broadcaster) Subscribe(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[id]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[id] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[id]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, id)
				}
			}
		})
	}
}

// Publish wakes every subscriber of id without blocking.
func (b *Broadcaster) Publish(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for id.
func (b *Broadcaster) Subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id])
}
