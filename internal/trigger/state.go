package trigger

import (
	"time"

	"github.com/halver/nudge/internal/classify"
	"github.com/halver/nudge/internal/trajectory"
)

// State is the admission state machine's current phase. It is process-wide,
// not per-tab: the product intent is "don't annoy the user across the whole
// browser".
type State int

const (
	// StateActive fires on any category change.
	StateActive State = iota
	// StateCooldown suppresses re-firing right after a suggestion.
	StateCooldown
	// StateIntentCheck decides whether the next fire is warranted by
	// testing topic drift once the cooldown has lapsed.
	StateIntentCheck
	// StateLockout suppresses repeated suggestions while the user stays on
	// the same topic; a pivot short-circuits out at any check.
	StateLockout
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCooldown:
		return "cooldown"
	case StateIntentCheck:
		return "intent_check"
	case StateLockout:
		return "lockout"
	default:
		return "unknown"
	}
}

const (
	cooldownPeriod = 2 * time.Minute
	lockoutPeriod  = 5 * time.Minute
)

// stateContext is the state machine's bookkeeping. Mutated only by evaluate
// and OnSuggestionsViewed, always under the engine lock.
type stateContext struct {
	lastSuggestCategory string
	lastAutoSuggestTime time.Time
	lastTopicKeywords   []string
	lockoutStart        time.Time
}

// evaluate advances the state machine for one trigger signal (dwell expiry,
// navigation complete, or search capture) and reports whether a suggestion
// fire is approved. Transitions that immediately require re-evaluation
// (cooldown lapse, pivot out of lockout) loop here instead of relying on
// case fallthrough, so no signal is lost between states.
func (e *Engine) evaluate(url string, now time.Time) bool {
	for {
		switch e.state {
		case StateActive:
			category := classify.Categorize(url)
			if category == e.sctx.lastSuggestCategory {
				return false
			}
			e.sctx.lastSuggestCategory = category
			e.sctx.lastAutoSuggestTime = now
			e.sctx.lastTopicKeywords = e.buf.Keywords()
			e.state = StateCooldown
			return true

		case StateCooldown:
			if now.Sub(e.sctx.lastAutoSuggestTime) < cooldownPeriod {
				return false
			}
			e.state = StateIntentCheck

		case StateIntentCheck:
			if trajectory.SameTopic(e.buf.Keywords(), e.sctx.lastTopicKeywords) {
				e.state = StateLockout
				e.sctx.lockoutStart = now
				return false
			}
			// Pivot detected: an immediate category check typically
			// re-enters cooldown with an approval.
			e.state = StateActive

		case StateLockout:
			if now.Sub(e.sctx.lockoutStart) < lockoutPeriod {
				if trajectory.SameTopic(e.buf.Keywords(), e.sctx.lastTopicKeywords) {
					return false
				}
			}
			e.state = StateActive
		}
	}
}
