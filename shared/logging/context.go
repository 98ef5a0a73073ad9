package logging

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for request and task scoped logging fields
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	taskInfoKey  contextKey = "task_info"

	// RequestIDHeader is echoed back on HTTP responses
	RequestIDHeader = "X-Request-ID"
)

// TaskInfo identifies a queue task for structured logging
type TaskInfo struct {
	Name string
	ID   string
	Args []interface{}
}

// WithRequestID returns a context carrying the given request id,
// generating one when empty.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id stored in the context, if any
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithTaskInfo returns a context carrying the task scope
func WithTaskInfo(ctx context.Context, info *TaskInfo) context.Context {
	return context.WithValue(ctx, taskInfoKey, info)
}

// GetTaskInfo returns the task scope stored in the context, if any
func GetTaskInfo(ctx context.Context) *TaskInfo {
	if info, ok := ctx.Value(taskInfoKey).(*TaskInfo); ok {
		return info
	}
	return nil
}
