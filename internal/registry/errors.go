package registry

import "errors"

var (
	// ErrDuplicateWorker is returned when a worker id is already registered
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrWorkerNotFound is returned when a worker id is unknown
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrNoEligibleWorker is returned when no idle worker supports the
	// task's class
	ErrNoEligibleWorker = errors.New("no eligible worker available")

	// ErrWorkerNotErrored is returned when resetting a worker that is not
	// in the error state
	ErrWorkerNotErrored = errors.New("worker is not in error state")

	// ErrTaskNotAssignable is returned when the task cannot move to
	// in_progress (not pending, or a dependency is incomplete)
	ErrTaskNotAssignable = errors.New("task is not assignable")
)
