package workunit

import "errors"

// Validation errors.
var (
	ErrEmptyTemplateID   = errors.New("template id is required")
	ErrEmptyName         = errors.New("name is required")
	ErrNoExecutionTarget = errors.New("template needs a runner key or an action sequence")
	ErrBothTargets       = errors.New("template cannot have both a runner key and an action sequence")
	ErrNegativeCost      = errors.New("estimated cost cannot be negative")
	ErrInvalidWindow     = errors.New("time window hours must be within 0-23")
	ErrInvalidWeight     = errors.New("preference weight must be within 0-1")
	ErrUnknownCategory   = errors.New("unknown budget category")
)

// Lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
)
