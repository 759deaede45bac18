// Package trigger decides when browsing activity warrants asking the
// suggestion backend for next tasks. A four-state admission machine detects
// topic pivots; independent budget counters bound how often and how much is
// dispatched.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/halver/nudge/internal/suggest"
	"github.com/halver/nudge/internal/trajectory"
)

// Dispatcher performs the suggestion round-trip once a trigger is admitted.
// Implemented by suggest.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req suggest.Request) ([]suggest.Task, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine is the process-wide suggestion trigger engine. All event handlers
// serialize on one mutex, so state and budget mutations within a single
// evaluation are atomic with respect to other handlers; only the network
// round-trip runs outside the lock.
type Engine struct {
	mu         sync.Mutex
	clock      Clock
	buf        *trajectory.Buffer
	dispatcher Dispatcher

	state  State
	sctx   stateContext
	budget budgetContext

	tabs       map[int64]*tabWatch
	dwellDelay time.Duration

	dispatches sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source (for testing).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithGlobalCooldown sets the initial budget cooldown.
func WithGlobalCooldown(d time.Duration) Option {
	return func(e *Engine) { e.budget.globalCooldown = d }
}

// WithDwellDelay overrides how long a tab must sit on a page before the
// dwell trigger fires.
func WithDwellDelay(d time.Duration) Option {
	return func(e *Engine) { e.dwellDelay = d }
}

// NewEngine creates the singleton engine. The buffer should already be
// loaded from its snapshot.
func NewEngine(buf *trajectory.Buffer, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		clock:      realClock{},
		buf:        buf,
		dispatcher: dispatcher,
		state:      StateActive,
		budget:     budgetContext{globalCooldown: DefaultGlobalCooldown},
		tabs:       make(map[int64]*tabWatch),
		dwellDelay: defaultDwellDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleNavigation records a completed navigation, re-arms the tab's dwell
// timer, and evaluates the navigation-complete trigger.
func (e *Engine) HandleNavigation(tabID int64, url, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf.Record(url, title)
	e.armDwellTimer(tabID, url)
	e.handleSignal(url, title)
}

// HandleSearchQuery evaluates the search-query-capture trigger.
func (e *Engine) HandleSearchQuery(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handleSignal(url, "")
}

// OnSuggestionsViewed treats the act of viewing as a fresh suggestion
// event: the quiet period restarts.
func (e *Engine) OnSuggestionsViewed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sctx.lastAutoSuggestTime = e.clock.Now()
	e.state = StateCooldown
}

// OnTasksAccepted frees n active-task slots.
func (e *Engine) OnTasksAccepted(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.release(n)
}

// OnTasksDismissed frees n active-task slots; dismissal releases budget the
// same way acceptance does.
func (e *Engine) OnTasksDismissed(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.release(n)
}

// OnSyncedTaskList adopts the authoritative unreviewed-task count from the
// backend, healing any local drift.
func (e *Engine) OnSyncedTaskList(activeTasks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.syncActive(activeTasks)
}

// SetGlobalCooldown live-reloads the budget cooldown.
func (e *Engine) SetGlobalCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultGlobalCooldown
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.globalCooldown = d
}

// handleSignal runs one full trigger evaluation: state machine, then budget
// gate, then (if admitted) the asynchronous dispatch. Callers hold e.mu.
func (e *Engine) handleSignal(url, title string) {
	now := e.clock.Now()

	if !e.evaluate(url, now) {
		return
	}
	if !e.budget.admit(now) {
		// The state machine's transition stands; only the dispatch is
		// suppressed.
		return
	}

	// Stamp the cooldown before the round-trip starts, not after it
	// completes: another trigger can arrive while this dispatch is still
	// in flight.
	e.budget.lastGlobalSuggest = now

	req := suggest.Request{
		ContextText: e.buf.RenderContext(),
		PageTitle:   title,
		CurrentURL:  url,
		Trajectory:  e.buf.Entries(),
	}
	keywords := e.buf.Keywords()

	e.dispatches.Add(1)
	go func() {
		defer e.dispatches.Done()
		e.dispatch(req, keywords)
	}()
}

func (e *Engine) dispatch(req suggest.Request, keywords []string) {
	tasks, err := e.dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		// Fails soft; the next natural trigger retries.
		slog.Warn("suggestion dispatch failed", "url", req.CurrentURL, "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.recordIssued(len(tasks))
	e.sctx.lastTopicKeywords = keywords
	slog.Debug("suggestions issued",
		"count", len(tasks),
		"session_tasks", e.budget.sessionTasks,
		"active_tasks", e.budget.activeTasks,
	)
}

// Trajectory returns a copy of the current trajectory entries, oldest first.
func (e *Engine) Trajectory() []trajectory.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Entries()
}

// TrajectoryText returns the trajectory rendered as the human-readable
// activity summary sent to the backend.
func (e *Engine) TrajectoryText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.RenderContext()
}

// Snapshot is a read-only view of the engine for status surfaces.
type Snapshot struct {
	State                 string    `json:"state"`
	LastSuggestCategory   string    `json:"last_suggest_category,omitempty"`
	LastAutoSuggestTime   time.Time `json:"last_auto_suggest_time,omitzero"`
	TopicKeywords         []string  `json:"topic_keywords,omitempty"`
	SessionTasks          int       `json:"session_tasks"`
	ActiveTasks           int       `json:"active_tasks"`
	GlobalCooldownSeconds int       `json:"global_cooldown_seconds"`
	TrajectoryLength      int       `json:"trajectory_length"`
	WatchedTabs           int       `json:"watched_tabs"`
}

// Status returns the current engine snapshot.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:                 e.state.String(),
		LastSuggestCategory:   e.sctx.lastSuggestCategory,
		LastAutoSuggestTime:   e.sctx.lastAutoSuggestTime,
		TopicKeywords:         append([]string(nil), e.sctx.lastTopicKeywords...),
		SessionTasks:          e.budget.sessionTasks,
		ActiveTasks:           e.budget.activeTasks,
		GlobalCooldownSeconds: int(e.budget.globalCooldown / time.Second),
		TrajectoryLength:      e.buf.Len(),
		WatchedTabs:           len(e.tabs),
	}
}
