package applier

import "errors"

// ErrAllAttemptsFailed is returned when every retry attempt for a chunk call
// failed; the wrapped error is the last attempt's failure.
var ErrAllAttemptsFailed = errors.New("all retry attempts failed")
