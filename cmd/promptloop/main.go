package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess       = 0 // Session completed or was cancelled
	ExitSessionFailed = 1 // The session ended in the failed phase
	ExitError         = 2 // Configuration or runtime error
)

// SessionFailedError indicates that the session ran but ended in the failed
// phase, for example because the stream broke.
type SessionFailedError struct {
	Message string
}

func (e *SessionFailedError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var failed *SessionFailedError
		if errors.As(err, &failed) {
			os.Exit(ExitSessionFailed)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
