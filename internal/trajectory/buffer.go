// Package trajectory keeps a bounded, time-ordered record of recently
// visited pages and derives the keyword set used for topic-pivot detection.
package trajectory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halver/nudge/internal/classify"
)

const (
	// Capacity bounds the buffer; the oldest entry is evicted first.
	Capacity = 10

	// meaningfulDwell separates real visits from pass-through navigation.
	meaningfulDwell = 10 * time.Second

	storageKey = "trajectory"
)

// Entry is a single visited page. DurationMs stays zero until a newer page
// supersedes the entry.
type Entry struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Domain     string    `json:"domain"`
	Category   string    `json:"category"`
	VisitedAt  time.Time `json:"visited_at"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// KV persists small JSON values under string keys. Implemented by
// storage.Store.
type KV interface {
	GetValue(key string) (val string, ok bool, err error)
	SetValue(key, value string) error
}

// RecentSiteSink receives entries whose dwell reached the meaningful
// threshold. Implemented by storage.Store.
type RecentSiteSink interface {
	SaveRecentSite(e Entry) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Buffer is the bounded browsing trajectory. It is not internally
// synchronized; the owning engine serializes access.
type Buffer struct {
	kv      KV
	sites   RecentSiteSink
	clock   Clock
	entries []Entry
}

// NewBuffer creates an empty Buffer persisting through kv and forwarding
// meaningful visits to sites.
func NewBuffer(kv KV, sites RecentSiteSink) *Buffer {
	return &Buffer{kv: kv, sites: sites, clock: realClock{}}
}

// NewBufferWithClock creates a Buffer with a custom clock (for testing).
func NewBufferWithClock(kv KV, sites RecentSiteSink, clock Clock) *Buffer {
	return &Buffer{kv: kv, sites: sites, clock: clock}
}

// Load restores the persisted snapshot, keeping only the last Capacity
// entries. Called once at startup; a missing snapshot is not an error.
func (b *Buffer) Load() error {
	raw, ok, err := b.kv.GetValue(storageKey)
	if err != nil {
		return fmt.Errorf("loading trajectory snapshot: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("parsing trajectory snapshot: %w", err)
	}
	if len(entries) > Capacity {
		entries = entries[len(entries)-Capacity:]
	}
	b.entries = entries
	return nil
}

// Record appends a visit. A URL equal to the newest entry's is suppressed.
// The superseded entry gets its dwell duration closed out and, past the
// meaningful threshold, is forwarded to the recent-sites sink.
func (b *Buffer) Record(rawURL, title string) {
	if rawURL == "" {
		return
	}
	if n := len(b.entries); n > 0 && b.entries[n-1].URL == rawURL {
		return
	}

	now := b.clock.Now()

	if n := len(b.entries); n > 0 {
		prev := &b.entries[n-1]
		dwell := now.Sub(prev.VisitedAt)
		prev.DurationMs = dwell.Milliseconds()
		if dwell >= meaningfulDwell {
			if err := b.sites.SaveRecentSite(*prev); err != nil {
				slog.Warn("saving recent site failed", "url", prev.URL, "error", err)
			}
		}
	}

	domain := classify.Hostname(rawURL)
	if title == "" {
		title = domain
	}
	b.entries = append(b.entries, Entry{
		URL:       rawURL,
		Title:     title,
		Domain:    domain,
		Category:  classify.Categorize(rawURL),
		VisitedAt: now,
	})

	for len(b.entries) > Capacity {
		b.entries = b.entries[1:]
	}

	b.persist()
}

func (b *Buffer) persist() {
	data, err := json.Marshal(b.entries)
	if err != nil {
		slog.Warn("marshalling trajectory snapshot failed", "error", err)
		return
	}
	if err := b.kv.SetValue(storageKey, string(data)); err != nil {
		slog.Warn("persisting trajectory snapshot failed", "error", err)
	}
}

// Entries returns a copy of the buffer contents, oldest first.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Keywords returns the current top keywords for the buffered trajectory.
func (b *Buffer) Keywords() []string {
	return Keywords(b.entries)
}

// RenderContext produces a human-readable summary of the trajectory for
// inclusion in a suggestion prompt. Empty buffer renders as "".
func (b *Buffer) RenderContext() string {
	if len(b.entries) == 0 {
		return ""
	}

	now := b.clock.Now()
	var sb strings.Builder
	for i, e := range b.entries {
		dur := "current"
		if e.DurationMs > 0 {
			dur = (time.Duration(e.DurationMs) * time.Millisecond).Truncate(time.Second).String()
		}
		ago := int(now.Sub(e.VisitedAt).Minutes())
		fmt.Fprintf(&sb, "%d. [%s] %s (%s) - %dm ago\n", i+1, e.Category, e.Title, dur, ago)
	}
	return strings.TrimRight(sb.String(), "\n")
}
