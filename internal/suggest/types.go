package suggest

import "github.com/halver/nudge/internal/trajectory"

// Task is a single proposed next task from the suggestion backend.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Request is the activity context sent to the backend's suggest endpoint.
type Request struct {
	ContextText string             `json:"context_text"`
	PageTitle   string             `json:"page_title"`
	CurrentURL  string             `json:"current_url"`
	Trajectory  []trajectory.Entry `json:"trajectory"`
}

// response is the backend's wire format.
type response struct {
	Success bool   `json:"success"`
	Tasks   []Task `json:"tasks"`
	Error   string `json:"error,omitempty"`
}

// Batch is a dispatched group of tasks handed to the UI feed.
type Batch struct {
	ID         string `json:"id"`
	TriggerURL string `json:"trigger_url"`
	Tasks      []Task `json:"tasks"`
}
