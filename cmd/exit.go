package cmd

import (
	"errors"

	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNotFound    = 2
	ExitUnavailable = 3
	ExitAuth        = 4
)

// ExitCode maps a command error to the process exit code so scripts can
// tell a missing repository from an outage.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, platform.ErrAuth):
		return ExitAuth
	case errors.Is(err, platform.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, platform.ErrTransient),
		errors.Is(err, platform.ErrRateLimited),
		errors.Is(err, platform.ErrCircuitOpen):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
