package progress

import (
	"maps"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/progflow/internal/engine"
)

// DefaultHistory is the number of quality points kept per unit.
const DefaultHistory = 256

// Snapshot is the observable status of a unit after one of its steps.
type Snapshot struct {
	Unit     string
	Kind     string
	State    string
	Run      int64
	Consumed int64
	Total    int64
	Quality  map[string]float64
}

// Percent returns the completed share in [0, 100], or -1 when the total
// is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}
	p := float64(s.Consumed) * 100 / float64(s.Total)
	return min(p, 100)
}

// QualityPoint is the quality of a unit after a given run.
type QualityPoint struct {
	Run    int64
	Values map[string]float64
}

// Sink receives throttled snapshots.
type Sink func(Snapshot)

// Reporter observes unit steps.
//
// Thread-safety: Observe is called from the scheduler's loop goroutine;
// the read accessors may be called from any goroutine.
type Reporter struct {
	period  time.Duration
	history int
	now     func() time.Time
	sinks   []Sink

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	latest    map[string]Snapshot
	quality   map[string][]QualityPoint
	delivered int
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithPeriod sets the minimum time between two notifications for the same
// unit. Zero notifies on every step.
func WithPeriod(d time.Duration) Option {
	return func(r *Reporter) { r.period = d }
}

// WithHistory sets how many quality points are kept per unit.
func WithHistory(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.history = n
		}
	}
}

// WithClock sets the time source used for throttling.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, s) }
}

// NewReporter creates a reporter.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		history:  DefaultHistory,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		latest:   make(map[string]Snapshot),
		quality:  make(map[string][]QualityPoint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers the reporter on every unit of g, including units added
// after the call.
func (r *Reporter) Attach(g *engine.Graph) {
	g.EachUnit(func(u engine.Unit) {
		u.Core().OnAfterStep(r.Observe)
	})
}

// Observe records the unit's status after a step and notifies the sinks
// unless the unit was reported less than one period ago. A unit's final
// step is always reported.
func (r *Reporter) Observe(u engine.Unit, run int64) {
	st := engine.StatusOf(u)
	snap := Snapshot{
		Unit:     st.Name,
		Kind:     st.Kind,
		State:    st.State,
		Run:      run,
		Consumed: st.Consumed,
		Total:    st.Total,
		Quality:  st.Quality,
	}
	now := r.now()
	final := u.Core().State().Done()

	r.mu.Lock()
	r.latest[snap.Unit] = snap
	if snap.Quality != nil {
		h := append(r.quality[snap.Unit], QualityPoint{Run: run, Values: maps.Clone(snap.Quality)})
		if len(h) > r.history {
			h = h[len(h)-r.history:]
		}
		r.quality[snap.Unit] = h
	}
	allow := r.period <= 0 || final
	if !allow {
		lim, ok := r.limiters[snap.Unit]
		if !ok {
			lim = rate.NewLimiter(rate.Every(r.period), 1)
			r.limiters[snap.Unit] = lim
		}
		allow = lim.AllowN(now, 1)
	}
	if allow {
		r.delivered++
	}
	sinks := r.sinks
	r.mu.Unlock()

	if !allow {
		return
	}
	for _, s := range sinks {
		s(snap)
	}
}

// Latest returns the most recent snapshot of a unit.
func (r *Reporter) Latest(unit string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.latest[unit]
	return s, ok
}

// History returns the quality points kept for a unit, oldest first.
func (r *Reporter) History(unit string) []QualityPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QualityPoint(nil), r.quality[unit]...)
}

// Delivered returns how many snapshots passed the throttle.
func (r *Reporter) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}
