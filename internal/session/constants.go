package session

import (
	"errors"
	"time"
)

const (
	DefaultTimeout       = 30 * time.Second
	KillGracePeriod      = 500 * time.Millisecond
	DefaultRetention     = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultMaxOutputSize = 10 * 1024 * 1024 // 10 MB
	DefaultScreenCols    = 200
	DefaultScreenRows    = 50
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrTerminationTimeout is logged when a terminated process has not been
	// seen to exit after SIGTERM and SIGKILL grace periods.
	ErrTerminationTimeout = errors.New("process did not exit after kill")
	ErrNoScreen           = errors.New("session has no terminal screen")
	ErrShutdown           = errors.New("session manager is shut down")
)
