package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rickgao/kb-realtime/internal/connection"
)

// TaskState is the lifecycle of a background task as seen by the client.
type TaskState string

// Task states.
const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task event types.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// TaskProgress is the latest known state of a task.
type TaskProgress struct {
	TaskID    string
	State     TaskState
	Percent   float64
	Message   string
	Error     string
	Result    json.RawMessage
	UpdatedAt time.Time
}

// taskPayload accepts both "percent" and "progress" for the completion value.
type taskPayload struct {
	Percent  *float64        `json:"percent"`
	Progress *float64        `json:"progress"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
	Result   json.RawMessage `json:"result"`
}

// TaskFeed follows the progress of one background task.
type TaskFeed struct {
	*Feed

	mu       sync.Mutex
	progress TaskProgress
}

// NewTaskFeed returns the feed for task taskID.
func NewTaskFeed(c Connector, taskID string, h connection.Handlers) *TaskFeed {
	t := &TaskFeed{
		Feed:     newFeed(c, "task:"+taskID, "/tasks/"+taskID, h),
		progress: TaskProgress{TaskID: taskID, State: TaskPending},
	}
	t.observe = t.apply
	return t
}

// Progress returns a snapshot of the task state.
func (t *TaskFeed) Progress() TaskProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Done reports whether the task reached a terminal state.
func (t *TaskFeed) Done() bool {
	s := t.Progress().State
	return s == TaskCompleted || s == TaskFailed
}

func (t *TaskFeed) apply(fr connection.Frame) {
	switch fr.Event {
	case EventProgress, EventCompleted, EventFailed:
	default:
		return
	}

	var p taskPayload
	if err := fr.Decode(&p); err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Terminal states are final.
	if t.progress.State == TaskCompleted || t.progress.State == TaskFailed {
		return
	}

	if p.Message != "" {
		t.progress.Message = p.Message
	}
	t.progress.UpdatedAt = time.Now()

	switch fr.Event {
	case EventProgress:
		t.progress.State = TaskRunning
		switch {
		case p.Percent != nil:
			t.progress.Percent = *p.Percent
		case p.Progress != nil:
			t.progress.Percent = *p.Progress
		}
	case EventCompleted:
		t.progress.State = TaskCompleted
		t.progress.Percent = 100
		t.progress.Result = p.Result
	case EventFailed:
		t.progress.State = TaskFailed
		t.progress.Error = p.Error
	}
}
