package sandbox

import "errors"

// Distinct failure modes for user-authored strategy code, per the
// component's contract: each is reported as a distinct sentinel so callers
// (the Strategy Executor) can record a specific reason rather than a bare
// string.
var (
	ErrSyntax          = errors.New("sandbox: syntax error")
	ErrForbiddenImport = errors.New("sandbox: forbidden import")
	ErrForbiddenCall   = errors.New("sandbox: forbidden call")
	ErrTimeout         = errors.New("sandbox: execution timed out")
	ErrBadReturn       = errors.New("sandbox: return value did not match expected shape")
	ErrRuntime         = errors.New("sandbox: runtime error")
)
