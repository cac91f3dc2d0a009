package shared

import "errors"

// ErrDuplicateRequest indicates an idempotency key was already processed.
var ErrDuplicateRequest = errors.New("duplicate request")
