package lock

import "errors"

var (
	ErrBusy   = errors.New("deployment is already running")
	ErrClosed = errors.New("lock table is closed")
)
