// Package errors provides production-grade error handling for MastFlow.
// It implements structured errors with codes, context, and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound     Code = "E101"
	CodeFilePermission   Code = "E102"
	CodeInvalidFormat    Code = "E103"
	CodeMissingColumn    Code = "E104"
	CodeInvalidTimestamp Code = "E105"
	CodeInvalidMJD       Code = "E106"
	CodeEncodingError    Code = "E107"

	// Processing errors (2xx)
	CodeDecodeFailed     Code = "E201"
	CodeSeriesMismatch   Code = "E202"
	CodeInvalidMaxFlat   Code = "E203"
	CodeValidationFailed Code = "E204"
	CodeMemoryLimit      Code = "E205"
	CodeProcessFailed    Code = "E206"

	// Output errors (3xx)
	CodeWriteFailed    Code = "E301"
	CodeDiskFull       Code = "E302"
	CodeCompressionErr Code = "E303"
	CodeEngineInit     Code = "E304"
	CodeEngineQuery    Code = "E305"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"
	CodePanic           Code = "E403"

	// Archive errors (5xx)
	CodeQueryFailed    Code = "E501"
	CodeServiceError   Code = "E502"
	CodeDownloadFailed Code = "E503"
	CodeResolveFailed  Code = "E504"
	CodeBadResponse    Code = "E505"

	// Unknown
	CodeUnknown Code = "E999"
)

// MastFlowError is the base error type for all MastFlow errors.
type MastFlowError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *MastFlowError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *MastFlowError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *MastFlowError) Is(target error) bool {
	if t, ok := target.(*MastFlowError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *MastFlowError) WithContext(key string, value interface{}) *MastFlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new MastFlowError.
func New(code Code, message string) *MastFlowError {
	return &MastFlowError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *MastFlowError {
	if err == nil {
		return nil
	}

	return &MastFlowError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *MastFlowError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *MastFlowError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *MastFlowError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *MastFlowError {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// InvalidTimestamp creates a timestamp parsing error.
func InvalidTimestamp(value string, row int) *MastFlowError {
	return New(CodeInvalidTimestamp, "failed to parse timestamp").
		WithContext("value", value).
		WithContext("row", row)
}

// InvalidMJD creates an MJD parsing error.
func InvalidMJD(value string, row int) *MastFlowError {
	return New(CodeInvalidMJD, "failed to parse MJD value").
		WithContext("value", value).
		WithContext("row", row)
}

// DecodeError creates a telemetry decoding error with location.
func DecodeError(mnemonic string, row int, err error) *MastFlowError {
	return Wrap(err, CodeDecodeFailed, "decode error").
		WithContext("mnemonic", mnemonic).
		WithContext("row", row)
}

// SeriesLengthMismatch creates an error for paired series of unequal length.
func SeriesLengthMismatch(xLen, yLen int) *MastFlowError {
	return New(CodeSeriesMismatch, "paired series have different lengths").
		WithContext("x_len", xLen).
		WithContext("y_len", yLen)
}

// InvalidMaxFlat creates an error for a non-positive flat-run threshold.
func InvalidMaxFlat(value int) *MastFlowError {
	return New(CodeInvalidMaxFlat, "max flat run must be positive").
		WithContext("value", value)
}

// QueryFailed creates an archive query error.
func QueryFailed(service string, err error) *MastFlowError {
	return Wrap(err, CodeQueryFailed, "archive query failed").
		WithContext("service", service)
}

// DownloadFailed creates a file download error.
func DownloadFailed(uri string, err error) *MastFlowError {
	return Wrap(err, CodeDownloadFailed, "download failed").
		WithContext("uri", uri)
}

// ResolveFailed creates a target name resolution error.
func ResolveFailed(target string, err error) *MastFlowError {
	return Wrap(err, CodeResolveFailed, "name resolution failed").
		WithContext("target", target)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *MastFlowError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var mfErr *MastFlowError
	if errors.As(err, &mfErr) {
		return mfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var mfErr *MastFlowError
	if errors.As(err, &mfErr) {
		return mfErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeDiskFull:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error is unrecoverable.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodePanic, CodeMemoryLimit:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
