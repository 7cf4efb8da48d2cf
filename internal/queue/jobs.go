// Package queue defines the Redis-backed tasks shared by the API server and
// the worker binary.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// AnalyzeCaseTask is scheduled when a client asks for an asynchronous
	// analysis.
	AnalyzeCaseTask = "case:analyze"

	maxRetry     = 3
	uniqueWindow = 10 * time.Minute
)

// AnalyzePayload is serialized into the task payload so the worker knows
// which case to analyze.
type AnalyzePayload struct {
	CaseID int64 `json:"case_id"`
}

// Enqueuer is the part of *asynq.Client the API needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewAnalyzeTask builds the task for a case.
func NewAnalyzeTask(caseID int64) (*asynq.Task, error) {
	data, err := json.Marshal(AnalyzePayload{CaseID: caseID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(AnalyzeCaseTask, data), nil
}

// ParseAnalyzePayload decodes a task payload.
func ParseAnalyzePayload(task *asynq.Task) (AnalyzePayload, error) {
	var payload AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.CaseID <= 0 {
		return payload, fmt.Errorf("decode payload: invalid case id %d", payload.CaseID)
	}
	return payload, nil
}

// EnqueueAnalyze enqueues an analysis. A case already waiting in the queue
// is not queued twice; that counts as success.
func EnqueueAnalyze(ctx context.Context, client Enqueuer, caseID int64) error {
	task, err := NewAnalyzeTask(caseID)
	if err != nil {
		return err
	}
	_, err = client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry), asynq.Unique(uniqueWindow))
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue analyze task: %w", err)
	}
	return nil
}
