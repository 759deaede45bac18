package trigger

import (
	"log/slog"
	"time"
)

const (
	// DefaultGlobalCooldown is the minimum interval between dispatched
	// suggestion requests; runtime-tunable through settings.
	DefaultGlobalCooldown = 30 * time.Second

	// MaxActiveTasks caps suggestions the user has not yet reviewed.
	MaxActiveTasks = 5

	// MaxSessionTasks is the hard ceiling for the lifetime of the process.
	MaxSessionTasks = 50
)

// budgetContext holds the admission counters checked after the state
// machine approves a fire. Mutated only under the engine lock.
type budgetContext struct {
	globalCooldown    time.Duration
	lastGlobalSuggest time.Time
	sessionTasks      int
	activeTasks       int
}

// admit applies the three independent budget checks. Denials are expected
// and frequent; they are diagnostics, never user-visible errors.
func (b *budgetContext) admit(now time.Time) bool {
	if elapsed := now.Sub(b.lastGlobalSuggest); elapsed < b.globalCooldown {
		slog.Debug("budget denial: global cooldown", "elapsed", elapsed, "cooldown", b.globalCooldown)
		return false
	}
	if b.activeTasks >= MaxActiveTasks {
		slog.Debug("budget denial: active task cap", "active", b.activeTasks)
		return false
	}
	if b.sessionTasks >= MaxSessionTasks {
		slog.Debug("budget denial: session cap", "session", b.sessionTasks)
		return false
	}
	return true
}

// recordIssued accounts for a dispatched batch of n tasks.
func (b *budgetContext) recordIssued(n int) {
	b.sessionTasks += n
	b.activeTasks += n
	if b.activeTasks > MaxActiveTasks {
		b.activeTasks = MaxActiveTasks
	}
}

// release frees n active-task slots (task accepted or dismissed).
func (b *budgetContext) release(n int) {
	b.activeTasks -= n
	if b.activeTasks < 0 {
		b.activeTasks = 0
	}
}

// syncActive re-derives the active count from an authoritative external
// task list, self-healing any drift.
func (b *budgetContext) syncActive(n int) {
	if n < 0 {
		n = 0
	}
	if n > MaxActiveTasks {
		n = MaxActiveTasks
	}
	b.activeTasks = n
}
