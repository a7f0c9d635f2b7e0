// Package queue enqueues the follow-up work of a return decision onto asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskIssueLabel buys a return shipping label for a decided request.
	TaskIssueLabel = "return:issue_label"
	// TaskSendConfirmation emails the return confirmation.
	TaskSendConfirmation = "return:send_confirmation"
)

// ReturnTaskPayload identifies the return request a task acts on.
type ReturnTaskPayload struct {
	MerchantID string `json:"merchant_id"`
	ReturnID   string `json:"return_id"`
}

// Valid reports whether both identifiers are present.
func (p ReturnTaskPayload) Valid() bool {
	return p.MerchantID != "" && p.ReturnID != ""
}

// NewIssueLabelTask creates a label task.
func NewIssueLabelTask(payload ReturnTaskPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIssueLabel, body), nil
}

// NewSendConfirmationTask creates a confirmation email task.
func NewSendConfirmationTask(payload ReturnTaskPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendConfirmation, body), nil
}

// ParsePayload decodes a task body.
func ParsePayload(task *asynq.Task) (ReturnTaskPayload, error) {
	var payload ReturnTaskPayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// taskID is the dedup key asynq uses to drop repeat enqueues.
func taskID(taskType string, payload ReturnTaskPayload) string {
	return fmt.Sprintf("%s:%s:%s", taskType, payload.MerchantID, payload.ReturnID)
}
