package rate

import "errors"

// ErrBackendUnavailable indicates the shared limiter backend is unreachable.
var ErrBackendUnavailable = errors.New("rate limiter backend unavailable")
