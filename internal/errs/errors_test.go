package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeNoFaceDetected, "no face in frame %d", 7)
	assert.Equal(t, "E403: no face in frame 7", err.Error())
	assert.NotEmpty(t, err.Remediation)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeOutputWriteFailed, cause, "write output")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "E406")
	assert.Contains(t, err.Error(), "disk full")
}

func TestCodeOfThroughWrapping(t *testing.T) {
	inner := New(CodeModelFileMissing, "model gone")
	outer := fmt.Errorf("loading chain: %w", inner)
	assert.Equal(t, CodeModelFileMissing, CodeOf(outer))
	assert.Equal(t, Code(0), CodeOf(errors.New("plain")))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(CodeNoFaceDetected, "x")))
	assert.True(t, Recoverable(New(CodeFaceNotAligned, "x")))
	assert.False(t, Recoverable(New(CodeProcessorFailed, "x")))
	assert.False(t, Recoverable(errors.New("plain")))
}

func TestFatalCategories(t *testing.T) {
	assert.True(t, Fatal(New(CodeOutOfMemory, "x")))
	assert.True(t, Fatal(New(CodeInvalidConfigFile, "x")))
	assert.True(t, Fatal(New(CodeModelLoadFailed, "x")))
	assert.False(t, Fatal(New(CodeImageDecodeFailed, "x")))
	assert.False(t, Fatal(New(CodeTaskCancelled, "x")))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeFileNotFound, "first")
	b := New(CodeFileNotFound, "second")
	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, New(CodeMissingField, "other"))
}
