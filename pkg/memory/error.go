package memory

import "errors"

// ErrNotInitialized is returned when a service operation is attempted
// before Initialize (or after Shutdown).
var ErrNotInitialized = errors.New("memory service not initialized")
