package trigger

import "time"

// defaultDwellDelay is how long a tab must stay on one page before the
// dwell trigger fires.
const defaultDwellDelay = 45 * time.Second

// tabWatch is a pending dwell timer for one tab.
type tabWatch struct {
	timer *time.Timer
	url   string
}

// armDwellTimer replaces the tab's pending dwell timer with one for url.
// Callers hold e.mu.
func (e *Engine) armDwellTimer(tabID int64, url string) {
	if w, ok := e.tabs[tabID]; ok {
		w.timer.Stop()
	}
	w := &tabWatch{url: url}
	w.timer = time.AfterFunc(e.dwellDelay, func() {
		e.onDwellExpiry(tabID, url)
	})
	e.tabs[tabID] = w
}

// onDwellExpiry fires when a tab has sat on the same page for the dwell
// delay. A stale expiry (the tab moved on or closed first) is dropped.
func (e *Engine) onDwellExpiry(tabID int64, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.tabs[tabID]
	if !ok || w.url != url {
		return
	}
	delete(e.tabs, tabID)

	e.handleSignal(url, "")
}

// HandleTabClosed cancels and removes the tab's dwell timer.
func (e *Engine) HandleTabClosed(tabID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.tabs[tabID]; ok {
		w.timer.Stop()
		delete(e.tabs, tabID)
	}
}
