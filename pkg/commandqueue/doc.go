// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// The gateway keys lanes by session key with concurrency 1, making the lane
// the single shared-mutation point for a conversation: tasks for the same
// key run strictly in arrival order while distinct keys proceed
// independently.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order up to the lane's concurrency.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue("agent:main:dm:u1", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
