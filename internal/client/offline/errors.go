package offline

import "errors"

var (
	// ErrNoCachedData indicates an offline read with no usable cache entry
	ErrNoCachedData = errors.New("no cached data available offline")

	// ErrSessionClosed indicates that the session has been closed
	ErrSessionClosed = errors.New("session is closed")
)
