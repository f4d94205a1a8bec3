package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/bothost/internal/errs"
)

func TestKinds(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
		category string
	}{
		{"not found", errs.NotFound("a1"), errs.ErrNotFound, errs.CodeNotFound, "NotFound"},
		{"invalid credential", errs.InvalidCredential(cause), errs.ErrInvalidCredential, errs.CodeInvalidCredential, "InvalidCredential"},
		{"handler fault", errs.HandlerFault("compile", cause), errs.ErrHandlerFault, errs.CodeHandlerFault, "HandlerFault"},
		{"timeout", errs.ExecutionTimeout("too slow"), errs.ErrExecutionTimeout, errs.CodeExecutionTimeout, "ExecutionTimeout"},
		{"connection", errs.ConnectionFault("dial", cause), errs.ErrConnectionFault, errs.CodeConnectionFault, "ConnectionFault"},
		{"validation", errs.Validation("bad", nil), errs.ErrValidation, errs.CodeValidation, "Validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.code, errs.Code(wrapped))
			assert.Equal(t, tt.category, errs.Category(wrapped))
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	t.Parallel()

	err := errs.NotFound("a1")
	assert.NotErrorIs(t, err, errs.ErrInvalidCredential)
	assert.Equal(t, errs.CodeUnknown, errs.Code(errors.New("plain")))
	assert.Equal(t, "Error", errs.Category(errors.New("plain")))
}

func TestCauseIsPreserved(t *testing.T) {
	t.Parallel()

	cause := errors.New("socket closed")
	err := errs.ConnectionFault("connect failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connect failed: socket closed", err.Error())
	assert.Equal(t, "connect failed: socket closed", errs.Message(err))
}
