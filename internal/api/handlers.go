// Package api exposes the local HTTP surface the browser extension talks to:
// activity events in, pending suggestions and status out.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halver/nudge/internal/storage"
	"github.com/halver/nudge/internal/suggest"
	"github.com/halver/nudge/internal/trajectory"
	"github.com/halver/nudge/internal/trigger"
)

const maxRequestBodySize = 1 << 20 // 1MB

// CooldownKey is the kv key where the live-tuned budget cooldown persists
// across restarts.
const CooldownKey = "settings.global_cooldown_seconds"

// Engine is the subset of the trigger engine the HTTP surface drives.
type Engine interface {
	HandleNavigation(tabID int64, url, title string)
	HandleSearchQuery(url string)
	HandleTabClosed(tabID int64)
	OnSuggestionsViewed()
	OnTasksAccepted(n int)
	OnTasksDismissed(n int)
	OnSyncedTaskList(activeTasks int)
	SetGlobalCooldown(d time.Duration)
	Status() trigger.Snapshot
	Trajectory() []trajectory.Entry
	TrajectoryText() string
}

type Deps struct {
	Engine Engine
	Store  *storage.Store
	Feed   *Feed
	Token  string
}

// NewHandler builds the extension-facing router. Everything except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/events/navigation", handleNavigation(deps))
		r.Post("/events/search", handleSearch(deps))
		r.Post("/events/tab_closed", handleTabClosed(deps))

		r.Post("/feedback/viewed", handleViewed(deps))
		r.Post("/feedback/accepted", handleAccepted(deps))
		r.Post("/feedback/dismissed", handleDismissed(deps))
		r.Post("/tasks/sync", handleTaskSync(deps))

		r.Get("/suggestions", handlePendingSuggestions(deps))
		r.Get("/suggestions/history", handleSuggestionHistory(deps))
		r.Get("/suggestions/history/{id}", handleSuggestionBatch(deps))
		r.Get("/sites/recent", handleRecentSites(deps))

		r.Get("/status", handleStatus(deps))
		r.Put("/settings/cooldown", handleSetCooldown(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type navigationEvent struct {
	TabID int64  `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

func handleNavigation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev navigationEvent
		if !decodeBody(w, r, &ev) {
			return
		}
		if ev.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		deps.Engine.HandleNavigation(ev.TabID, ev.URL, ev.Title)
		writeAccepted(w)
	}
}

type searchEvent struct {
	URL string `json:"url"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev searchEvent
		if !decodeBody(w, r, &ev) {
			return
		}
		if ev.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		deps.Engine.HandleSearchQuery(ev.URL)
		writeAccepted(w)
	}
}

type tabClosedEvent struct {
	TabID int64 `json:"tab_id"`
}

func handleTabClosed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev tabClosedEvent
		if !decodeBody(w, r, &ev) {
			return
		}

		deps.Engine.HandleTabClosed(ev.TabID)
		writeAccepted(w)
	}
}

func handleViewed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Engine.OnSuggestionsViewed()
		writeAccepted(w)
	}
}

type feedbackEvent struct {
	Count int `json:"count"`
}

func handleAccepted(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev feedbackEvent
		if !decodeBody(w, r, &ev) {
			return
		}
		if ev.Count < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "count must not be negative")
			return
		}

		deps.Engine.OnTasksAccepted(ev.Count)
		writeAccepted(w)
	}
}

func handleDismissed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev feedbackEvent
		if !decodeBody(w, r, &ev) {
			return
		}
		if ev.Count < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "count must not be negative")
			return
		}

		deps.Engine.OnTasksDismissed(ev.Count)
		writeAccepted(w)
	}
}

type taskSyncEvent struct {
	ActiveTasks int `json:"active_tasks"`
}

func handleTaskSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev taskSyncEvent
		if !decodeBody(w, r, &ev) {
			return
		}

		deps.Engine.OnSyncedTaskList(ev.ActiveTasks)
		writeAccepted(w)
	}
}

func handlePendingSuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batches := deps.Feed.Drain()
		if batches == nil {
			batches = []suggest.Batch{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"batches": batches})
	}
}

type batchResponse struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	TriggerURL  string         `json:"trigger_url"`
	ContextText string         `json:"context_text,omitempty"`
	Tasks       []suggest.Task `json:"tasks"`
}

func toBatchResponse(b storage.SuggestionBatch) batchResponse {
	var tasks []suggest.Task
	if err := json.Unmarshal([]byte(b.TasksJSON), &tasks); err != nil {
		tasks = []suggest.Task{}
	}
	return batchResponse{
		ID:          b.ID,
		CreatedAt:   b.CreatedAt,
		TriggerURL:  b.TriggerURL,
		ContextText: b.ContextText,
		Tasks:       tasks,
	}
}

func handleSuggestionHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		batches, err := deps.Store.ListSuggestionBatches(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestion batches: %v", err)
			return
		}

		out := make([]batchResponse, 0, len(batches))
		for _, b := range batches {
			out = append(out, toBatchResponse(b))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleSuggestionBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		b, err := deps.Store.GetSuggestionBatch(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "suggestion batch not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get suggestion batch: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toBatchResponse(b))
	}
}

type recentSiteResponse struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Domain        string    `json:"domain"`
	Category      string    `json:"category"`
	DurationMs    int64     `json:"duration_ms"`
	VisitCount    int       `json:"visit_count"`
	LastVisitedAt time.Time `json:"last_visited_at"`
}

func handleRecentSites(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		sites, err := deps.Store.ListRecentSites(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list recent sites: %v", err)
			return
		}

		out := make([]recentSiteResponse, 0, len(sites))
		for _, s := range sites {
			out = append(out, recentSiteResponse{
				URL:           s.URL,
				Title:         s.Title,
				Domain:        s.Domain,
				Category:      s.Category,
				DurationMs:    s.DurationMs,
				VisitCount:    s.VisitCount,
				LastVisitedAt: s.LastVisitedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Engine.Status()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"engine":              snap,
			"pending_suggestions": deps.Feed.Len(),
		})
	}
}

type cooldownSetting struct {
	Seconds int `json:"seconds"`
}

func handleSetCooldown(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var setting cooldownSetting
		if !decodeBody(w, r, &setting) {
			return
		}
		if setting.Seconds <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "seconds must be positive")
			return
		}

		deps.Engine.SetGlobalCooldown(time.Duration(setting.Seconds) * time.Second)
		if err := deps.Store.SetValue(CooldownKey, strconv.Itoa(setting.Seconds)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to persist cooldown: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "updated", "seconds": setting.Seconds})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
