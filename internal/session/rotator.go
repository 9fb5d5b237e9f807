package session

import (
	"sync"
	"time"
)

// DefaultStatusInterval is how long each status message is shown.
const DefaultStatusInterval = 3 * time.Second

var defaultStatusMessages = []string{
	"Analyzing the image...",
	"Identifying UI components...",
	"Generating React components...",
	"Applying Tailwind styles...",
	"Building your app...",
	"Almost there...",
}

// StatusMessages returns a copy of the built-in rotation list.
func StatusMessages() []string {
	return append([]string(nil), defaultStatusMessages...)
}

// Rotator cycles through a fixed list of messages while a generation is in
// flight. The first message is current as soon as the rotator is created;
// each tick advances to the next one, wrapping at the end.
type Rotator struct {
	messages []string
	interval time.Duration
	onChange func(string)

	mu    sync.Mutex
	index int
	cur   *rotation
	last  *rotation
}

type rotation struct {
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRotator returns a stopped rotator. An empty list falls back to the
// built-in messages and a non-positive interval to DefaultStatusInterval.
func NewRotator(messages []string, interval time.Duration, onChange func(string)) *Rotator {
	if len(messages) == 0 {
		messages = defaultStatusMessages
	}
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	return &Rotator{
		messages: messages,
		interval: interval,
		onChange: onChange,
	}
}

func (r *Rotator) First() string {
	return r.messages[0]
}

func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[r.index]
}

// Start resets to the first message and begins ticking. Starting a rotator
// that is already running is a no-op.
func (r *Rotator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return
	}

	r.index = 0
	r.cur = &rotation{
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run(r.cur.stop, r.cur.stopped)
}

func (r *Rotator) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.index = (r.index + 1) % len(r.messages)
			msg := r.messages[r.index]
			r.mu.Unlock()

			// A stop that races the tick wins.
			select {
			case <-stop:
				return
			default:
			}
			r.onChange(msg)
		}
	}
}

// Stop halts the rotator and waits for its goroutine to exit, so onChange is
// never called after Stop returns. It is safe to call more than once,
// concurrently, and on a rotator that was never started. Stop must not be
// called from within onChange, nor while holding a lock that onChange takes.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if r.cur != nil {
		r.last = r.cur
		r.cur = nil
	}
	last := r.last
	r.mu.Unlock()

	if last == nil {
		return
	}
	last.once.Do(func() { close(last.stop) })
	<-last.stopped
}

func (r *Rotator) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}
