package feedback

import "errors"

// ErrValidation is returned for submissions missing required fields or
// carrying malformed source specs. Surfaced to the caller, never retried.
var ErrValidation = errors.New("validation failed")
