package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionFailedError(t *testing.T) {
	err := &SessionFailedError{Message: "session 1a2b3c4d failed"}
	assert.Equal(t, "session 1a2b3c4d failed", err.Error())
}

func TestErrorTypeDetection(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantFailed bool
	}{
		{
			name:       "SessionFailedError",
			err:        &SessionFailedError{Message: "failed"},
			wantFailed: true,
		},
		{
			name:       "regular error",
			err:        errors.New("config error"),
			wantFailed: false,
		},
		{
			name:       "wrapped SessionFailedError",
			err:        fmt.Errorf("run: %w", &SessionFailedError{Message: "failed"}),
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failed *SessionFailedError
			assert.Equal(t, tt.wantFailed, errors.As(tt.err, &failed))
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "history", "serve", "session"} {
		cmd, _, err := root.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}
