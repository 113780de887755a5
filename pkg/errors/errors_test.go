package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeMissingColumn, "required column not found")
	msg := err.Error()

	if !strings.Contains(msg, "E104") {
		t.Errorf("Expected message to contain code E104, got %q", msg)
	}
	if !strings.Contains(msg, "required column not found") {
		t.Errorf("Expected message to contain description, got %q", msg)
	}
}

func TestErrorContext(t *testing.T) {
	err := New(CodeInvalidMJD, "failed to parse MJD value").
		WithContext("row", 42)

	if !strings.Contains(err.Error(), "row=42") {
		t.Errorf("Expected context in message, got %q", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeQueryFailed, "archive query failed")

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped error to match cause via errors.Is")
	}
	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, CodeQueryFailed, "should be nil"); err != nil {
		t.Errorf("Expected nil when wrapping nil, got %v", err)
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(cause, CodeWriteFailed, "writing row %d", 7)

	if !strings.Contains(err.Error(), "writing row 7") {
		t.Errorf("Expected formatted message, got %q", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := SeriesLengthMismatch(10, 12)

	if !IsCode(err, CodeSeriesMismatch) {
		t.Error("Expected IsCode to match E202")
	}
	if IsCode(err, CodeWriteFailed) {
		t.Error("Expected IsCode not to match E301")
	}

	// Works through wrapping with fmt.Errorf.
	wrapped := fmt.Errorf("outer: %w", err)
	if !IsCode(wrapped, CodeSeriesMismatch) {
		t.Error("Expected IsCode to match through fmt.Errorf wrapping")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(InvalidMaxFlat(0)); got != CodeInvalidMaxFlat {
		t.Errorf("Expected %s, got %s", CodeInvalidMaxFlat, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Errorf("Expected %s for plain error, got %s", CodeUnknown, got)
	}
}

func TestErrorsIsByCode(t *testing.T) {
	a := New(CodeTimeout, "first timeout")
	b := New(CodeTimeout, "second timeout")

	if !errors.Is(a, b) {
		t.Error("Expected errors with the same code to match")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err  *MastFlowError
		code Code
	}{
		{FileNotFound("/tmp/x.csv"), CodeFileNotFound},
		{MissingColumn("MJD", []string{"theTime"}), CodeMissingColumn},
		{InvalidTimestamp("garbage", 3), CodeInvalidTimestamp},
		{InvalidMJD("nan", 4), CodeInvalidMJD},
		{DecodeError("SA_ZHGAUPST", 5, errors.New("bad field")), CodeDecodeFailed},
		{SeriesLengthMismatch(1, 2), CodeSeriesMismatch},
		{InvalidMaxFlat(-1), CodeInvalidMaxFlat},
		{QueryFailed("Mast.Caom.Cone", errors.New("500")), CodeQueryFailed},
		{DownloadFailed("mast:jwstedb/x.csv", errors.New("404")), CodeDownloadFailed},
		{ResolveFailed("M101", errors.New("unknown")), CodeResolveFailed},
		{ContextCanceled("segment"), CodeContextCanceled},
	}

	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("Expected code %s, got %s", tt.code, tt.err.Code)
		}
	}
}

func TestStackTraceCaptured(t *testing.T) {
	err := New(CodeUnknown, "trace me")
	if len(err.StackTrace) == 0 {
		t.Fatal("Expected a captured stack trace")
	}
	if !strings.Contains(err.FormatStack(), "errors_test") {
		t.Errorf("Expected test frame in stack, got:\n%s", err.FormatStack())
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.HasErrors() {
		t.Error("Expected no errors initially")
	}
	if m.Combined() != nil {
		t.Error("Expected nil Combined for empty MultiError")
	}

	m.Add(nil)
	if m.HasErrors() {
		t.Error("Expected Add(nil) to be ignored")
	}

	first := errors.New("first")
	m.Add(first)
	if m.Combined() != first {
		t.Error("Expected single error to be returned directly")
	}

	m.Add(errors.New("second"))
	combined := m.Combined()
	if combined == nil {
		t.Fatal("Expected combined error")
	}
	if !strings.Contains(combined.Error(), "2 errors occurred") {
		t.Errorf("Expected count header, got %q", combined.Error())
	}
}
