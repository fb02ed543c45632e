package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
)

// Source tells where the numbers of an entry came from.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceEstimated     Source = "estimated"
)

// Facts are the aggregate numbers for one member.
type Facts struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Score          int    `json:"score"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksApproved  int    `json:"tasks_approved"`
	Streak         int    `json:"streak"`
}

// Entry is one ranked row. PreviousScore is set only while the score change overlay is visible.
type Entry struct {
	Rank int `json:"rank"`
	Facts
	Source        Source `json:"source"`
	PreviousScore *int   `json:"previous_score,omitempty"`
}

// Config holds ranker timing.
type Config struct {
	// AnimationWindow is how long a previous score stays visible after a change.
	AnimationWindow time.Duration
	// RefreshInterval drives the periodic estimated refresh in the owning session.
	RefreshInterval time.Duration
}

// DefaultConfig returns the default ranker timing
func DefaultConfig() Config {
	return Config{
		AnimationWindow: 2 * time.Second,
		RefreshInterval: 30 * time.Second,
	}
}

type overlay struct {
	previous  int
	expiresAt time.Time
	timer     clockwork.Timer
}

type memberInfo struct {
	name string
}

// Ranker derives ranked standings from member facts.
type Ranker struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cfg   Config

	members       map[string]memberInfo
	hasMembers    bool
	authoritative map[string]Facts
	estimated     map[string]Facts
	displayed     map[string]int
	overlays      map[string]*overlay
	standings     []Entry

	onChange func()
	closed   bool
}

// NewRanker creates an empty ranker.
func NewRanker(clock clockwork.Clock, cfg Config) *Ranker {
	if cfg.AnimationWindow <= 0 {
		cfg.AnimationWindow = DefaultConfig().AnimationWindow
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	return &Ranker{
		clock:         clock,
		cfg:           cfg,
		members:       make(map[string]memberInfo),
		authoritative: make(map[string]Facts),
		estimated:     make(map[string]Facts),
		displayed:     make(map[string]int),
		overlays:      make(map[string]*overlay),
	}
}

// Config returns the ranker timing.
func (r *Ranker) Config() Config {
	return r.cfg
}

// SetOnChange registers a callback run when an overlay expires.
func (r *Ranker) SetOnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// SetMembers replaces the member set. Once set, only members are ranked; facts for
// anyone else are kept and show again if they rejoin.
func (r *Ranker) SetMembers(members []models.Member) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hasMembers = true
	r.members = make(map[string]memberInfo, len(members))
	for _, m := range members {
		r.members[m.UserID] = memberInfo{name: m.Name}
	}
	r.recompute()
	return r.snapshot()
}

// ApplyAuthoritative replaces the authoritative facts with a full push. Earlier
// estimates are discarded since the push supersedes them.
func (r *Ranker) ApplyAuthoritative(facts []Facts) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authoritative = make(map[string]Facts, len(facts))
	for _, f := range facts {
		r.authoritative[f.UserID] = f
	}
	r.estimated = make(map[string]Facts)
	r.recompute()
	return r.snapshot()
}

// ApplyEstimated replaces the locally estimated facts. An estimate is shown only
// where it does not fall below the last authoritative score.
func (r *Ranker) ApplyEstimated(facts map[string]Facts) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.estimated = make(map[string]Facts, len(facts))
	for id, f := range facts {
		r.estimated[id] = f
	}
	r.recompute()
	return r.snapshot()
}

// Standings returns the current ranked rows.
func (r *Ranker) Standings() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Close stops every overlay timer. Later updates are ignored.
func (r *Ranker) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, o := range r.overlays {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(r.overlays, id)
	}
	r.closed = true
	r.onChange = nil
}

func (r *Ranker) recompute() {
	if r.closed {
		return
	}

	ids := make(map[string]struct{}, len(r.members)+len(r.authoritative))
	for id := range r.members {
		ids[id] = struct{}{}
	}
	if !r.hasMembers {
		for id := range r.authoritative {
			ids[id] = struct{}{}
		}
		for id := range r.estimated {
			ids[id] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(ids))
	for id := range ids {
		entries = append(entries, r.resolve(id))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	now := r.clock.Now()
	for _, e := range entries {
		prev, seen := r.displayed[e.UserID]
		if seen && prev != e.Score {
			r.markChanged(e.UserID, prev, now)
		}
		r.displayed[e.UserID] = e.Score
	}

	r.standings = entries
}

// resolve picks the facts to display for one user.
func (r *Ranker) resolve(id string) Entry {
	auth, hasAuth := r.authoritative[id]
	est, hasEst := r.estimated[id]

	var e Entry
	switch {
	case hasAuth && hasEst && est.Score > auth.Score:
		e = Entry{Facts: est, Source: SourceEstimated}
	case hasAuth:
		e = Entry{Facts: auth, Source: SourceAuthoritative}
	case hasEst:
		e = Entry{Facts: est, Source: SourceEstimated}
	default:
		e = Entry{Facts: Facts{UserID: id}, Source: SourceEstimated}
	}

	e.UserID = id
	if m, ok := r.members[id]; ok && m.name != "" {
		e.Name = m.name
	}
	return e
}

// markChanged opens the overlay window. A window already open is left alone.
func (r *Ranker) markChanged(id string, previous int, now time.Time) {
	if o, ok := r.overlays[id]; ok && now.Before(o.expiresAt) {
		return
	}
	if o, ok := r.overlays[id]; ok && o.timer != nil {
		o.timer.Stop()
	}

	o := &overlay{previous: previous, expiresAt: now.Add(r.cfg.AnimationWindow)}
	o.timer = r.clock.AfterFunc(r.cfg.AnimationWindow, func() {
		r.clearOverlay(id, o)
	})
	r.overlays[id] = o

	log.Debug().
		Str("user_id", id).
		Int("previous_score", previous).
		Msg("score changed")
}

func (r *Ranker) clearOverlay(id string, o *overlay) {
	r.mu.Lock()
	if current, ok := r.overlays[id]; !ok || current != o {
		r.mu.Unlock()
		return
	}
	delete(r.overlays, id)
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (r *Ranker) snapshot() []Entry {
	now := r.clock.Now()
	out := make([]Entry, len(r.standings))
	copy(out, r.standings)
	for i := range out {
		out[i].PreviousScore = nil
		if o, ok := r.overlays[out[i].UserID]; ok && now.Before(o.expiresAt) {
			prev := o.previous
			out[i].PreviousScore = &prev
		}
	}
	return out
}
