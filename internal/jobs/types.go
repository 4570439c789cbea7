package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskWarmSnapshots = "warm:snapshots"
	QueueWarm         = "warm"
)

type WarmPayload struct {
	// Days counts from today; zero means today only
	Days int `json:"days,omitempty"`
}

// NewWarmTask builds the periodic cache warming task. Warm runs that overlap
// are pointless, so the task is unique for most of its own timeout.
func NewWarmTask(p WarmPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarmSnapshots, payload,
		asynq.Queue(QueueWarm),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(90*time.Second),
	), nil
}
