// Package errs defines the stable error taxonomy used across the engine.
// Codes are grouped by category: E1xx system, E2xx config, E3xx model,
// E4xx runtime. Each code carries a description and a remediation hint
// that surfaces to the user unchanged.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies one error class.
type Code int

const (
	// System errors (fatal, abort the task).
	CodeOutOfMemory    Code = 101
	CodeDeviceNotFound Code = 102
	CodeThreadDeadlock Code = 103
	CodeGPUContextLost Code = 104

	// Config errors (fatal per task).
	CodeInvalidConfigFile   Code = 201
	CodeParameterOutOfRange Code = 202
	CodeFileNotFound        Code = 203
	CodeVersionMismatch     Code = 204
	CodeMissingField        Code = 205
	CodeInvalidPath         Code = 206

	// Model errors (fatal per task).
	CodeModelLoadFailed          Code = 301
	CodeModelFileMissing         Code = 302
	CodeModelChecksumMismatch    Code = 303
	CodeModelVersionIncompatible Code = 304

	// Runtime errors.
	CodeImageDecodeFailed Code = 401
	CodeVideoOpenFailed   Code = 402
	CodeNoFaceDetected    Code = 403
	CodeFaceNotAligned    Code = 404
	CodeProcessorFailed   Code = 405
	CodeOutputWriteFailed Code = 406
	CodeTaskCancelled     Code = 407
)

// Error is the uniform error value carried across component boundaries.
type Error struct {
	Code        Code
	Description string
	Remediation string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("E%d: %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("E%d: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code so callers can compare against sentinel instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds an Error for code with a formatted description. The static
// remediation text for the code is attached automatically.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		Description: fmt.Sprintf(format, args...),
		Remediation: remediation(code),
	}
}

// Wrap is New with an underlying cause preserved for errors.Is/As.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// CodeOf extracts the taxonomy code from err, or 0 when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Recoverable reports whether err is a per-frame recoverable runtime error:
// the frame passes through unchanged and a counter increments.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeNoFaceDetected, CodeFaceNotAligned:
		return true
	}
	return false
}

// Fatal reports whether err must abort the whole task rather than just the
// current media item.
func Fatal(err error) bool {
	c := CodeOf(err)
	return c >= 100 && c < 400
}

func remediation(code Code) string {
	switch code {
	case CodeOutOfMemory:
		return "reduce max_queue_size, thread count, or frame-enhancer tile size"
	case CodeDeviceNotFound:
		return "check the device_id and installed drivers, or switch to the cpu provider"
	case CodeThreadDeadlock:
		return "report this; attach the log file"
	case CodeGPUContextLost:
		return "restart the task; if it recurs, update the GPU driver"
	case CodeInvalidConfigFile:
		return "fix the YAML/JSON syntax reported above"
	case CodeParameterOutOfRange:
		return "adjust the parameter to the documented range"
	case CodeFileNotFound:
		return "check that the path exists and is readable"
	case CodeVersionMismatch:
		return "regenerate the file with the current version"
	case CodeMissingField:
		return "add the required field to the task configuration"
	case CodeInvalidPath:
		return "use only letters, digits, underscore and dash"
	case CodeModelLoadFailed:
		return "verify the model file is a valid ONNX graph for this runtime"
	case CodeModelFileMissing:
		return "download the model or fix models_dir"
	case CodeModelChecksumMismatch:
		return "delete the model file and download it again"
	case CodeModelVersionIncompatible:
		return "update the model catalog to a compatible model"
	case CodeImageDecodeFailed:
		return "check the image file format and integrity"
	case CodeVideoOpenFailed:
		return "check the video file and the ffmpeg installation"
	case CodeNoFaceDetected:
		return "lower face_detector_score or check the input media"
	case CodeFaceNotAligned:
		return "lower face_landmarker_score or check the input media"
	case CodeProcessorFailed:
		return "check the log for the failing processor step"
	case CodeOutputWriteFailed:
		return "check free disk space and output directory permissions"
	case CodeTaskCancelled:
		return "re-run the task to resume from the last checkpoint"
	}
	return ""
}
