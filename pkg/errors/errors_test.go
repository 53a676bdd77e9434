package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates error with defaults", func(t *testing.T) {
		err := New(ErrCodeInvalidInput, "key must not be empty")
		if err == nil {
			t.Fatal("New returned nil")
		}
		if err.Code != ErrCodeInvalidInput {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
		}
		if err.Message != "key must not be empty" {
			t.Errorf("Message = %q, want %q", err.Message, "key must not be empty")
		}
		if err.Category != CategoryInput {
			t.Errorf("Category = %v, want %v", err.Category, CategoryInput)
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := New(ErrCodeTimeout, "operation timed out")
		if !retryableErr.Retryable {
			t.Error("TIMEOUT_ERROR should be retryable by default")
		}

		nonRetryableErr := New(ErrCodeAccessDenied, "operation not permitted")
		if nonRetryableErr.Retryable {
			t.Error("ACCESS_DENIED should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidInput, CategoryInput},
		{ErrCodeConfiguration, CategoryInput},
		{ErrCodeMemoryLimitExceeded, CategoryCapacity},
		{ErrCodeCacheFull, CategoryCapacity},
		{ErrCodeKeyNotFound, CategoryLifecycle},
		{ErrCodeEntryExpired, CategoryLifecycle},
		{ErrCodeVersionConflict, CategoryVersioning},
		{ErrCodeDependencyChanged, CategoryVersioning},
		{ErrCodeLockAcquisition, CategoryConcurrency},
		{ErrCodeAccessDenied, CategorySecurity},
		{ErrCodeEncryption, CategorySecurity},
		{ErrCodeFileSystem, CategorySystem},
		{ErrCodeUnknown, CategorySystem},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestCacheError_Error(t *testing.T) {
	t.Parallel()

	t.Run("bare code and message", func(t *testing.T) {
		err := New(ErrCodeKeyNotFound, "no such key")
		want := "KEY_NOT_FOUND: no such key"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("includes component and operation", func(t *testing.T) {
		err := New(ErrCodeAccessDenied, "restricted key").
			WithComponent("engine").
			WithOperation("set")
		want := "[engine:set] ACCESS_DENIED: restricted key"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}

func TestCacheError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("cipher: message authentication failed")
	err := New(ErrCodeEncryption, "decrypt failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestCacheError_Is(t *testing.T) {
	t.Parallel()

	a := New(ErrCodeMemoryLimitExceeded, "will not fit")
	b := New(ErrCodeMemoryLimitExceeded, "different message")
	c := New(ErrCodeCacheFull, "entry cap")

	if !errors.Is(a, b) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(a, c) {
		t.Error("errors with different codes should not match")
	}
}

func TestCacheError_JSON(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeDependencyChanged, "dep.txt changed").
		WithKey("report@17").
		WithDetail("path", "dep.txt")

	var decoded map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(err.JSON()), &decoded); jsonErr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jsonErr)
	}
	if decoded["code"] != "DEPENDENCY_CHANGED" {
		t.Errorf("code = %v, want DEPENDENCY_CHANGED", decoded["code"])
	}
	if decoded["key"] != "report@17" {
		t.Errorf("key = %v, want report@17", decoded["key"])
	}
}

func TestCacheError_String(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeEncryption, "bad tag").
		WithComponent("encryptor").
		WithCause(errors.New("auth failed"))

	s := err.String()
	for _, want := range []string{"Code=ENCRYPTION_ERROR", "Component=encryptor", `Cause="auth failed"`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %v, want empty", got)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeUnknown {
		t.Errorf("CodeOf(plain) = %v, want UNKNOWN_ERROR", got)
	}
	if got := CodeOf(New(ErrCodeCacheFull, "full")); got != ErrCodeCacheFull {
		t.Errorf("CodeOf = %v, want CACHE_FULL", got)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(New(ErrCodeFileSystem, "stat failed")) {
		t.Error("FILE_SYSTEM_ERROR should be retryable")
	}
	if IsRetryable(New(ErrCodeFileSystem, "stat failed").WithRetryable(false)) {
		t.Error("WithRetryable(false) should override the default")
	}
}
