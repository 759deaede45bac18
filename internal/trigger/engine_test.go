package trigger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halver/nudge/internal/suggest"
	"github.com/halver/nudge/internal/trajectory"
)

type memKV struct {
	values map[string]string
}

func (m *memKV) GetValue(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) SetValue(key, value string) error {
	m.values[key] = value
	return nil
}

type nullSink struct{}

func (nullSink) SaveRecentSite(trajectory.Entry) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []suggest.Request
	tasks []suggest.Task
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req suggest.Request) ([]suggest.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.tasks, f.err
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func tasks(n int) []suggest.Task {
	out := make([]suggest.Task, n)
	for i := range out {
		out[i] = suggest.Task{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Task %d", i)}
	}
	return out
}

func newTestEngine(taskCount int, opts ...Option) (*Engine, *fakeClock, *fakeDispatcher) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	buf := trajectory.NewBufferWithClock(&memKV{values: map[string]string{}}, nullSink{}, clock)
	disp := &fakeDispatcher{tasks: tasks(taskCount)}
	opts = append([]Option{WithClock(clock), WithDwellDelay(time.Hour)}, opts...)
	return NewEngine(buf, disp, opts...), clock, disp
}

// floodCategory navigates through enough distinct pages of one category to
// fully replace the trajectory buffer, advancing the clock a second between
// visits. Titles repeat the slug so pages within one flood read as the same
// topic, while distinct slugs across floods read as a pivot.
func floodCategory(e *Engine, clock *fakeClock, host, slug string) {
	for i := 0; i < trajectory.Capacity; i++ {
		url := fmt.Sprintf("https://%s/%s%d", host, slug, i)
		title := fmt.Sprintf("%s daily digest %s%d", slug, slug, i)
		e.HandleNavigation(1, url, title)
		clock.advance(time.Second)
	}
}

func TestScenarioA_FirstVisitApprovesAndEntersCooldown(t *testing.T) {
	e, _, disp := newTestEngine(3)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()

	require.Equal(t, 1, disp.callCount(), "first visit from empty state must fire")
	snap := e.Status()
	assert.Equal(t, "cooldown", snap.State)
	assert.Equal(t, "coding", snap.LastSuggestCategory)
	assert.Equal(t, 3, snap.SessionTasks)
	assert.Equal(t, 3, snap.ActiveTasks)
}

func TestScenarioB_TriggerWithinCooldownDenies(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()

	clock.advance(30 * time.Second)
	e.HandleNavigation(1, "https://stackoverflow.com/questions/1", "A question")
	e.dispatches.Wait()

	assert.Equal(t, 1, disp.callCount(), "triggers inside the 2-minute cooldown must deny")
	assert.Equal(t, "cooldown", e.Status().State)
}

func TestScenarioC_PivotAfterCooldownApproves(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()
	require.Equal(t, 1, disp.callCount())

	// Browse email pages inside the cooldown window (all denied) until the
	// coding entries are fully evicted from the trajectory.
	floodCategory(e, clock, "mail.google.com", "inbox")
	e.dispatches.Wait()
	require.Equal(t, 1, disp.callCount(), "cooldown must still be in effect")

	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/search")
	e.dispatches.Wait()

	assert.Equal(t, 2, disp.callCount(), "zero keyword overlap after cooldown is a pivot")
	snap := e.Status()
	assert.Equal(t, "cooldown", snap.State)
	assert.Equal(t, "email", snap.LastSuggestCategory)
}

func TestScenarioD_SameTopicAfterCooldownLocksOut(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	floodCategory(e, clock, "mail.google.com", "inbox")
	e.dispatches.Wait()
	require.Equal(t, 1, disp.callCount(), "first navigation fires, the rest sit in cooldown")

	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/more")
	e.dispatches.Wait()

	assert.Equal(t, 1, disp.callCount(), "same topic after cooldown must not fire")
	assert.Equal(t, "lockout", e.Status().State)

	// Still the same topic while locked out: denied until the lockout ends.
	clock.advance(time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/again")
	e.dispatches.Wait()
	assert.Equal(t, 1, disp.callCount())
	assert.Equal(t, "lockout", e.Status().State)
}

func TestLockout_PivotShortCircuits(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	floodCategory(e, clock, "mail.google.com", "inbox")
	e.dispatches.Wait()
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/more")
	require.Equal(t, "lockout", e.Status().State)
	callsBefore := disp.callCount()

	// A genuine context switch mid-lockout: shopping pages replace the
	// trajectory, keyword overlap drops to zero, and the engine must come
	// back to life well before the 5-minute lockout elapses.
	floodCategory(e, clock, "amazon.com", "cart")
	e.dispatches.Wait()

	assert.Greater(t, disp.callCount(), callsBefore, "pivot must short-circuit out of lockout")
	assert.Equal(t, "cooldown", e.Status().State)
	assert.Equal(t, "shopping", e.Status().LastSuggestCategory)
}

func TestLockout_ExpiresBackToActive(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	floodCategory(e, clock, "mail.google.com", "inbox")
	e.dispatches.Wait()
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/more")
	require.Equal(t, "lockout", e.Status().State)
	require.Equal(t, 1, disp.callCount())

	// After the lockout window the machine re-enters ACTIVE; the category
	// has not changed, so this particular signal still denies.
	clock.advance(6 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/later")
	e.dispatches.Wait()

	assert.Equal(t, 1, disp.callCount())
	assert.Equal(t, "active", e.Status().State)
}

func TestGlobalCooldown_SuppressesDispatchWithoutRollback(t *testing.T) {
	e, clock, disp := newTestEngine(2, WithGlobalCooldown(10*time.Minute))

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()
	require.Equal(t, 1, disp.callCount())

	floodCategory(e, clock, "mail.google.com", "inbox")
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/search")
	e.dispatches.Wait()

	assert.Equal(t, 1, disp.callCount(), "global cooldown must suppress the dispatch")
	snap := e.Status()
	assert.Equal(t, "cooldown", snap.State, "state machine transition is not rolled back")
	assert.Equal(t, "email", snap.LastSuggestCategory, "category bookkeeping still reflects the attempt")
}

func TestActiveTaskCap_DeniesAndRecoversOnRelease(t *testing.T) {
	e, clock, disp := newTestEngine(5)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()
	require.Equal(t, 5, e.Status().ActiveTasks)

	floodCategory(e, clock, "mail.google.com", "inbox")
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/search")
	e.dispatches.Wait()
	assert.Equal(t, 1, disp.callCount(), "full active budget must deny")

	e.OnTasksDismissed(5)
	assert.Equal(t, 0, e.Status().ActiveTasks)

	// Next pivot fires again now that the budget is free.
	floodCategory(e, clock, "amazon.com", "cart")
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://amazon.com/cart/checkout")
	e.dispatches.Wait()
	assert.Equal(t, 2, disp.callCount())
}

func TestScenarioE_SessionCapDeniesDespiteApproval(t *testing.T) {
	e, _, disp := newTestEngine(5)
	e.budget.sessionTasks = MaxSessionTasks

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()

	assert.Equal(t, 0, disp.callCount(), "session cap is a hard ceiling")
	assert.Equal(t, "cooldown", e.Status().State, "state machine still approved and transitioned")
}

func TestDispatchFailure_LeavesCountersUntouched(t *testing.T) {
	e, _, disp := newTestEngine(0)
	disp.err = fmt.Errorf("backend unreachable")

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()

	snap := e.Status()
	assert.Equal(t, 0, snap.SessionTasks)
	assert.Equal(t, 0, snap.ActiveTasks)
}

func TestEmptyResult_LeavesCountersUntouched(t *testing.T) {
	e, _, _ := newTestEngine(0)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()

	snap := e.Status()
	assert.Equal(t, 0, snap.SessionTasks)
	assert.Equal(t, 0, snap.ActiveTasks)
}

func TestOnSuggestionsViewed_RestartsQuietPeriod(t *testing.T) {
	e, clock, disp := newTestEngine(2)

	floodCategory(e, clock, "mail.google.com", "inbox")
	e.dispatches.Wait()
	clock.advance(3 * time.Minute)
	e.HandleSearchQuery("https://mail.google.com/mail/u/0/more")
	require.Equal(t, "lockout", e.Status().State)

	e.OnSuggestionsViewed()
	assert.Equal(t, "cooldown", e.Status().State)

	// Viewing restarted the clock: still quiet a minute later.
	clock.advance(time.Minute)
	e.HandleNavigation(1, "https://amazon.com/deals", "Daily deals")
	e.dispatches.Wait()
	assert.Equal(t, 1, disp.callCount())
}

func TestFeedback_BoundsActiveTasks(t *testing.T) {
	e, _, _ := newTestEngine(4)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()
	require.Equal(t, 4, e.Status().ActiveTasks)

	e.OnTasksAccepted(2)
	assert.Equal(t, 2, e.Status().ActiveTasks)

	e.OnTasksDismissed(10)
	assert.Equal(t, 0, e.Status().ActiveTasks, "release floors at zero")
}

func TestOnSyncedTaskList_IsAuthoritative(t *testing.T) {
	e, _, _ := newTestEngine(4)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	e.dispatches.Wait()
	require.Equal(t, 4, e.Status().ActiveTasks)

	e.OnSyncedTaskList(1)
	assert.Equal(t, 1, e.Status().ActiveTasks)

	e.OnSyncedTaskList(99)
	assert.Equal(t, MaxActiveTasks, e.Status().ActiveTasks, "sync clamps to the cap")

	e.OnSyncedTaskList(-3)
	assert.Equal(t, 0, e.Status().ActiveTasks)
}

func TestSetGlobalCooldown_LiveReload(t *testing.T) {
	e, _, _ := newTestEngine(1)

	e.SetGlobalCooldown(90 * time.Second)
	assert.Equal(t, 90, e.Status().GlobalCooldownSeconds)

	e.SetGlobalCooldown(0)
	assert.Equal(t, int(DefaultGlobalCooldown/time.Second), e.Status().GlobalCooldownSeconds)
}

func TestDispatchRequest_CarriesTrajectoryContext(t *testing.T) {
	e, clock, disp := newTestEngine(1)

	e.HandleNavigation(1, "https://github.com/golang/go", "The Go Programming Language")
	clock.advance(time.Second)
	e.dispatches.Wait()

	require.Equal(t, 1, disp.callCount())
	req := disp.calls[0]
	assert.Equal(t, "https://github.com/golang/go", req.CurrentURL)
	assert.Equal(t, "The Go Programming Language", req.PageTitle)
	assert.Len(t, req.Trajectory, 1)
	assert.NotEmpty(t, req.ContextText)
}

func TestDwellTimer_CancelledOnTabClose(t *testing.T) {
	e, _, _ := newTestEngine(1, WithDwellDelay(time.Hour))

	e.HandleNavigation(7, "https://github.com/golang/go", "Go")
	require.Equal(t, 1, e.Status().WatchedTabs)

	e.HandleTabClosed(7)
	assert.Equal(t, 0, e.Status().WatchedTabs)
}

func TestDwellTimer_ReplacedOnSameTabNavigation(t *testing.T) {
	e, _, _ := newTestEngine(1, WithDwellDelay(time.Hour))

	e.HandleNavigation(7, "https://github.com/golang/go", "Go")
	e.HandleNavigation(7, "https://stackoverflow.com/questions/1", "Question")
	assert.Equal(t, 1, e.Status().WatchedTabs, "same tab keeps a single pending timer")

	e.HandleNavigation(8, "https://amazon.com/", "Amazon")
	assert.Equal(t, 2, e.Status().WatchedTabs)
}

func TestDwellTimer_FiresEvaluation(t *testing.T) {
	e, _, _ := newTestEngine(1, WithDwellDelay(10*time.Millisecond))

	e.HandleNavigation(7, "https://github.com/golang/go", "Go")

	deadline := time.Now().Add(2 * time.Second)
	for e.Status().WatchedTabs != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dwell timer never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.dispatches.Wait()
}
