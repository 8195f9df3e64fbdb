package journal

import "sync"

// Feed is a multicast stream of newly written entries for in-process
// subscribers. Delivery is best effort: a subscriber whose buffer is full
// misses the entry rather than blocking the writer.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan *Entry
	nextID int
	closed bool
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan *Entry)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function removes the subscription and closes the channel; it is
// safe to call more than once.
func (f *Feed) Subscribe(buf int) (<-chan *Entry, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan *Entry, buf)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has buffer space left.
func (f *Feed) Publish(e *Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close removes and closes all subscriptions. Subsequent Subscribe calls
// return an already-closed channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
