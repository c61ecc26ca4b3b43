package triage

import (
	"context"
	"time"
)

// Job is a submitted batch and its live working state.
type Job struct {
	ID        string
	CreatedAt time.Time
	Context   *Context
}

// JobStore is the registry's persistence interface. Jobs are shared by
// pointer: the Context inside carries its own locking.
type JobStore interface {
	Get(ctx context.Context, id string) (*Job, bool, error)
	Put(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)
}
