package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestScanError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestScanError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestScanError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryManifest, CodeWriteConflict, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestScanError_Is(t *testing.T) {
	err1 := New(ErrCategoryStorage, CodeUploadFailed, "first")
	err2 := New(ErrCategoryStorage, CodeUploadFailed, "second")
	err3 := New(ErrCategoryStorage, CodeDownloadFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"path", PathNotFound("/data/t", nil), ErrPathNotFound},
		{"schema", SchemaMismatch("b.arrow_file", "field 0 differs"), ErrSchemaMismatch},
		{"decode", Decode("a.arrow_file", fmt.Errorf("bad magic")), ErrDecode},
		{"io", IO("a.arrow_file", fmt.Errorf("EOF")), ErrIO},
		{"index", IndexOutOfRange(4, 2), ErrIndexOutOfRange},
		{"plan", InvalidPlan("scan is a leaf"), ErrInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("scan: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("%v should match sentinel %v", tt.err, tt.sentinel)
			}
		})
	}

	if errors.Is(IO("a", nil), ErrDecode) {
		t.Error("IO error must not match the decode sentinel")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryManifest, CodeWriteConflict, true},
		{ErrCategoryManifest, CodeTableNotFound, false},
		{ErrCategoryTable, CodePathNotFound, false},
		{ErrCategoryTable, CodeSchemaMismatch, false},
		{ErrCategoryExecution, CodeIOError, true},
		{ErrCategoryExecution, CodeDecodeError, false},
		{ErrCategoryPlan, CodeIndexOutOfRange, false},
		{ErrCategoryPlan, CodeInvalidPlan, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := IndexOutOfRange(3, 3)
	if GetCategory(err) != ErrCategoryPlan {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryPlan)
	}
	if GetCode(err) != CodeIndexOutOfRange {
		t.Errorf("got %q, want %q", GetCode(err), CodeIndexOutOfRange)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-ScanError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-ScanError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidSchema, "bad schema")
	detailed := err.WithDetails(map[string]interface{}{"field": "tenant_id"})

	if detailed.Details["field"] != "tenant_id" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}

	mismatch := SchemaMismatch("part-2.arrow_file", "3 fields, want 2")
	if mismatch.Details["file"] != "part-2.arrow_file" {
		t.Error("SchemaMismatch should name the offending file")
	}
}
