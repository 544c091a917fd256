package core

import "context"

// Task is a unit of best-effort background work. A non-nil error makes it eligible for retry.
type Task func(ctx context.Context) error

// TaskQueue runs tasks outside of the calling request.
// Enqueue never blocks; it reports false if the task was dropped.
type TaskQueue interface {
	Enqueue(name string, task Task) bool
}
