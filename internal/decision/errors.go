package decision

import "errors"

// Oracle answer errors. These never escape DecideNext or PlanDay; they are
// logged and trigger the fallback.
var (
	ErrNoOracle       = errors.New("no oracle configured")
	ErrUnknownOption  = errors.New("oracle chose an option that was not offered")
	ErrEmptyDecision  = errors.New("oracle returned no choice")
	ErrNilTemplate    = errors.New("template cannot be nil")
	ErrDuplicateID    = errors.New("duplicate template id")
	ErrNoBudgetReader = errors.New("no budget reader configured")
)
