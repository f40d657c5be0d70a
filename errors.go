package scoped

import (
	"errors"
	"fmt"
)

var (
	// ErrUnbound is matched by errors returned from [Key.Get] when the key
	// has no binding on the current thread.
	ErrUnbound = errors.New("scoped: value not bound")

	// ErrStructureViolation is matched by every [*StructureViolationError].
	ErrStructureViolation = errors.New("scoped: structure violation")
)

// UnboundError reports a read of a key that has no active binding.
// It matches [ErrUnbound] via [errors.Is].
type UnboundError struct {
	Key string
}

func (e *UnboundError) Error() string {
	return fmt.Sprintf("scoped: %s not bound", e.Key)
}

func (e *UnboundError) Is(target error) bool {
	return target == ErrUnbound
}

// StructureViolationError reports that the nesting of bind-and-run calls
// and bracketed resources (task scopes, pools) was broken: a resource
// outlived the extent that opened it, was closed out of order, or a task
// was forked after the bindings it would inherit had changed.
//
// It matches [ErrStructureViolation] via [errors.Is].
type StructureViolationError struct {
	Reason string
}

func (e *StructureViolationError) Error() string {
	return "scoped: structure violation: " + e.Reason
}

func (e *StructureViolationError) Is(target error) bool {
	return target == ErrStructureViolation
}

const (
	reasonLeaked        = "bracketed resource not closed before the end of its extent"
	reasonOutOfOrder    = "bracketed resource closed before the resources nested in it"
	reasonChanged       = "scoped value bindings have changed since the scope was created"
	reasonTaskLeaked    = "task returned with a bracketed resource still open"
	reasonForcedClosing = "scope force-closed by an enclosing extent"
)

func violation(reason string) *StructureViolationError {
	return &StructureViolationError{Reason: reason}
}

// TaskError wraps an error together with the [TaskInfo] of the task that
// produced it. Scope error aggregation wraps every task failure in a
// TaskError so callers can attribute errors to specific tasks.
type TaskError struct {
	Task TaskInfo
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsTaskError reports whether err (or any error in its chain) is a [*TaskError].
func IsTaskError(err error) bool {
	_, ok := firstTaskError(err)
	return ok
}

// TaskOf extracts the [TaskInfo] from the first [*TaskError] in err's chain.
func TaskOf(err error) (TaskInfo, bool) {
	te, ok := firstTaskError(err)
	if !ok {
		return TaskInfo{}, false
	}
	return te.Task, true
}

// CauseOf returns the cause wrapped by the first [*TaskError] in err's
// chain, or err itself if there is none.
func CauseOf(err error) error {
	if te, ok := firstTaskError(err); ok {
		return te.Err
	}
	return err
}

func firstTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if err == nil || !errors.As(err, &te) {
		return nil, false
	}
	return te, true
}

// AllTaskErrors recursively collects every [*TaskError] from err's chain,
// including errors wrapped via [errors.Join]. Returns nil if none are found.
func AllTaskErrors(err error) []*TaskError {
	var out []*TaskError
	walkErrors(err, func(e error) bool {
		if te, ok := e.(*TaskError); ok {
			out = append(out, te)
			return false
		}
		return true
	})
	return out
}

// walkErrors visits err and, while visit returns true, the errors it wraps.
func walkErrors(err error, visit func(error) bool) {
	if err == nil || !visit(err) {
		return
	}
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			walkErrors(sub, visit)
		}
	case interface{ Unwrap() error }:
		walkErrors(e.Unwrap(), visit)
	}
}
