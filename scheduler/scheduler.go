// Package scheduler implements the job-queue collaborator:
// Schedule(job) enqueues a one-shot job whose DoIt runs exactly
// once on a worker. The file engine's disk syncer and the coordinator's
// write-back tasks are both Jobs; nothing in package engine or coordinator
// depends on how the Scheduler actually runs them.
package scheduler

// Job is a one-shot unit of work. DoIt runs exactly once, on a goroutine
// chosen by the Scheduler.
type Job interface {
	DoIt()
}

// Scheduler accepts jobs for asynchronous, eventual execution.
type Scheduler interface {
	Schedule(job Job)
}

// JobFunc adapts a plain function to Job.
type JobFunc func()

// DoIt runs the wrapped function.
func (f JobFunc) DoIt() { f() }
