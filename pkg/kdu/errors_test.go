package kdu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressionError_Error(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "[execution] run kdu: Kakadu Error: x",
		(&CompressionError{Kind: KindExecution, Op: "run kdu", Diagnostic: "Kakadu Error: x", Err: cause}).Error())
	assert.Equal(t, "[launch] start kdu: boom", newError(KindLaunch, "start kdu", cause).Error())
	assert.Equal(t, "[interrupted] wait", newError(KindInterrupted, "wait", nil).Error())
}

func TestCompressionError_Unwrap(t *testing.T) {
	err := fmt.Errorf("job 7: %w", newError(KindExecution, "check output", ErrEmptyOutput))
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.True(t, IsKind(err, KindExecution))
	assert.False(t, IsKind(err, KindLaunch))
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
}

func TestErrorKind_IsRetryable(t *testing.T) {
	for _, k := range []ErrorKind{KindConfiguration, KindInputFormat, KindLaunch, KindExecution, KindParameters} {
		assert.False(t, k.IsRetryable(), k.String())
	}
	assert.True(t, KindInterrupted.IsRetryable())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
