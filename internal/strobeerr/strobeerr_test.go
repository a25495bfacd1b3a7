package strobeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInternalErrorGetsCorrelationID(t *testing.T) {
	err := New(Internal, "unexpected state")
	require.NotEmpty(t, err.CorrelationID)
}

func TestNewNonInternalErrorHasNoCorrelationID(t *testing.T) {
	err := New(ValidationError, "missing field")
	require.Empty(t, err.CorrelationID)
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ProcessExited, cause, "spawn failed")
	require.ErrorIs(t, err, cause)
}

func TestCodeOfDefaultsToInternalForPlainErrors(t *testing.T) {
	require.Equal(t, Internal, CodeOf(errors.New("plain")))
}

func TestCodeOfRecoversCodeThroughWrappedChain(t *testing.T) {
	base := New(SessionNotFound, "no such session")
	wrapped := fmt.Errorf("lookup failed: %w", base)
	require.Equal(t, SessionNotFound, CodeOf(wrapped))
}
