package notify

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Kind is the severity of a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is an ephemeral user-visible message.
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds the queue bounds.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// DefaultConfig returns the default queue bounds
func DefaultConfig() Config {
	return Config{
		Capacity: 5,
		TTL:      5 * time.Second,
	}
}

// Queue is a bounded most-recent-first log where every item expires on its own timer.
type Queue struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	cfg      Config
	items    []Notification
	timers   map[int64]clockwork.Timer
	lastID   int64
	closed   bool
	onChange func()
}

// NewQueue creates an empty queue.
func NewQueue(clock clockwork.Clock, cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Queue{
		clock:  clock,
		cfg:    cfg,
		timers: make(map[int64]clockwork.Timer),
	}
}

// SetOnChange registers a callback run after every push, removal or expiry.
func (q *Queue) SetOnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Push prepends a notification, evicts the tail beyond capacity and schedules its expiry.
// Pushing to a closed queue is a no-op and returns false.
func (q *Queue) Push(message string, kind Kind) (Notification, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Debug().Str("message", message).Msg("notification dropped, queue closed")
		return Notification{}, false
	}

	now := q.clock.Now()
	id := now.UnixNano()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id

	n := Notification{ID: id, Message: message, Kind: kind, CreatedAt: now}
	q.items = append([]Notification{n}, q.items...)

	for len(q.items) > q.cfg.Capacity {
		evicted := q.items[len(q.items)-1]
		q.items = q.items[:len(q.items)-1]
		q.cancelTimer(evicted.ID)
	}

	q.timers[id] = q.clock.AfterFunc(q.cfg.TTL, func() {
		q.expire(id)
	})
	fn := q.onChange
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
	return n, true
}

// Remove deletes a notification by id. Removing an unknown id is a no-op.
func (q *Queue) Remove(id int64) bool {
	q.mu.Lock()
	removed := q.removeLocked(id)
	fn := q.onChange
	q.mu.Unlock()

	if removed && fn != nil {
		fn()
	}
	return removed
}

func (q *Queue) expire(id int64) {
	q.mu.Lock()
	delete(q.timers, id)
	removed := q.removeLocked(id)
	fn := q.onChange
	q.mu.Unlock()

	if removed {
		log.Debug().Int64("notification_id", id).Msg("notification expired")
		if fn != nil {
			fn()
		}
	}
}

func (q *Queue) removeLocked(id int64) bool {
	for i, n := range q.items {
		if n.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.cancelTimer(id)
			return true
		}
	}
	return false
}

// cancelTimer must be called with q.mu held.
func (q *Queue) cancelTimer(id int64) {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
}

// List returns the live notifications, most recent first. Items whose TTL has
// elapsed are hidden even if their timer has not run yet.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	out := make([]Notification, 0, len(q.items))
	for _, n := range q.items {
		if now.Sub(n.CreatedAt) >= q.cfg.TTL {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Len returns the number of live notifications.
func (q *Queue) Len() int {
	return len(q.List())
}

// Close cancels every pending expiry and discards the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.items = nil
	q.closed = true
	q.onChange = nil
}
