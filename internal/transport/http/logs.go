package transporthttp

import "sync"

// logEvent is one log line as streamed to SSE clients.
type logEvent struct {
	Level string `json:"level"`
	Line  string `json:"line"`
}

// logFeed fans logger lines out to connected event-stream clients. Slow
// clients drop lines rather than stall the logger.
type logFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan logEvent
}

func newLogFeed() *logFeed {
	return &logFeed{subs: make(map[int]chan logEvent)}
}

func (f *logFeed) publish(level, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- logEvent{Level: level, Line: line}:
		default:
		}
	}
}

func (f *logFeed) subscribe() (<-chan logEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan logEvent, 64)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
