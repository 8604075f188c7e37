package toolregistry

import "errors"

// ErrToolNotFound is returned by Execute when no tool is registered under
// the requested name.
var ErrToolNotFound = errors.New("toolregistry: tool not found")
