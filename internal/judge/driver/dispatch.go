package driver

import "fmt"

// builders maps a TaskType to the strategy constructor that serves it.
// Adding a task type is a one-line registration here, not a new branch
// buried in a dispatcher switch.
var builders = map[TaskType]func(Task, Dependencies) TaskDriver{
	TaskTypeBatch: func(task Task, deps Dependencies) TaskDriver {
		return NewBatchDriver(task, deps)
	},
}

// Dispatch builds the TaskDriver strategy for task.Type, or reports false
// if no strategy is registered for it.
func Dispatch(task Task, deps Dependencies) (TaskDriver, bool) {
	build, ok := builders[task.Type]
	if !ok {
		return nil, false
	}
	return build(task, deps), true
}

// ErrUnsupportedTaskType is returned by callers that want a plain error
// rather than the (TaskDriver, bool) pair, e.g. at the edge of an RPC
// handler.
func ErrUnsupportedTaskType(t TaskType) error {
	return fmt.Errorf("unsupported task type %q", t)
}
