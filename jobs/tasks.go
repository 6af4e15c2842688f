package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMaintenance carries long-running integrity and revaluation work.
	QueueMaintenance = "maintenance"
)

// newTask marshals payload into an Asynq task bound to queue.
func newTask(taskType, queue string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, body, asynq.Queue(queue)), nil
}

// decodePayload unmarshals the task body; malformed payloads are never retried.
func decodePayload(task *asynq.Task, target any) error {
	if len(task.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Payload(), target); err != nil {
		return fmt.Errorf("jobs: decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}
