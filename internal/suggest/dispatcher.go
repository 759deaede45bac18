package suggest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halver/nudge/internal/storage"
)

// maxTasksPerBatch caps a single backend response.
const maxTasksPerBatch = 5

// Backend generates suggested tasks from activity context.
type Backend interface {
	Suggest(ctx context.Context, req Request) ([]Task, error)
}

// BatchRecorder persists dispatched batches. Implemented by storage.Store.
type BatchRecorder interface {
	SaveSuggestionBatch(b storage.SuggestionBatch) error
}

// Notifier delivers a dispatched batch to the UI collaborator.
type Notifier interface {
	Publish(b Batch)
}

// Dispatcher invokes the backend on an admitted trigger and fans the capped
// result out to storage and the UI feed. Counter bookkeeping stays with the
// trigger engine; the Dispatcher only reports how many tasks went out.
type Dispatcher struct {
	backend  Backend
	recorder BatchRecorder
	notifier Notifier
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(backend Backend, recorder BatchRecorder, notifier Notifier) *Dispatcher {
	return &Dispatcher{backend: backend, recorder: recorder, notifier: notifier}
}

// Dispatch performs one suggestion round-trip. A backend failure surfaces as
// an error with nothing forwarded; an empty result is nil, nil. On success
// the batch is truncated to 5 tasks, recorded, and published.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]Task, error) {
	tasks, err := d.backend.Suggest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	if len(tasks) > maxTasksPerBatch {
		tasks = tasks[:maxTasksPerBatch]
	}

	batch := Batch{
		ID:         uuid.New().String(),
		TriggerURL: req.CurrentURL,
		Tasks:      tasks,
	}

	// History is best effort; a storage hiccup must not drop the batch.
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		slog.Warn("marshalling task batch failed", "batch_id", batch.ID, "error", err)
	} else if err := d.recorder.SaveSuggestionBatch(storage.SuggestionBatch{
		ID:          batch.ID,
		CreatedAt:   time.Now().UTC(),
		TriggerURL:  req.CurrentURL,
		ContextText: req.ContextText,
		TaskCount:   len(tasks),
		TasksJSON:   string(tasksJSON),
	}); err != nil {
		slog.Warn("recording suggestion batch failed", "batch_id", batch.ID, "error", err)
	}

	d.notifier.Publish(batch)
	return tasks, nil
}
