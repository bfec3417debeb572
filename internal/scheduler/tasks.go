package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDMOutboxDue = "dm.outbox.due"

type DMOutboxDuePayload struct {
	OutboxID     string `json:"outboxId"`
	ExperienceID string `json:"experienceId"`
}

func NewDMOutboxDueTask(payload DMOutboxDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDMOutboxDue, data), nil
}

func ParseDMOutboxDuePayload(task *asynq.Task) (DMOutboxDuePayload, error) {
	var payload DMOutboxDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DMOutboxDuePayload{}, err
	}
	return payload, nil
}
