package memory

import "errors"

// ErrValidation is returned when an entity is missing required fields or a
// query argument is malformed. Surfaced to the caller, never retried.
var ErrValidation = errors.New("validation failed")

// ErrAdaptationNotFound is returned by update paths for unknown ids.
// Updates never silently create records.
var ErrAdaptationNotFound = errors.New("adaptation not found")
