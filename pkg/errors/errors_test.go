// errors_test.go — 验证 AppError / Wrap / 错误类别的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "store.Lookup", "message not found")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "store.Lookup" {
		t.Errorf("Op = %q, want %q", appErr.Op, "store.Lookup")
	}
}

func TestWrapErrorString(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "telegram.readLoop", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"telegram.readLoop", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestWrapfFormat(t *testing.T) {
	wrapped := Wrapf(ErrInvalidInput, "archive.ParsePeriodDates", "bad date %q", "2024-13-01")

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, `bad date "2024-13-01"`) {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestNewWithoutCause(t *testing.T) {
	err := New("Init", "failed to start")
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		code string
	}{
		{"store", StoreFailure(io.ErrClosedPipe, "store.Upsert", "upsert message"), ErrStoreFailure, CodeStoreFailure},
		{"remote", RemoteFailure(io.EOF, "telegram.Call", "messages.get"), ErrRemoteFailure, CodeRemoteFailure},
		{"invalid", Invalid("config.SetSortOrder", "unknown order %q", "x"), ErrInvalidInput, CodeInvalidInput},
		{"not found", NotFound("store.GetMessage", "message %d not found", 7), ErrNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf = %q, want %q", got, tt.code)
			}
			// 外层再包一次仍可匹配
			outer := Wrap(tt.err, "archive.Fetch", "run failed")
			if !errors.Is(outer, tt.kind) {
				t.Errorf("double wrap lost kind %v", tt.kind)
			}
		})
	}
}

func TestFailureNilPassthrough(t *testing.T) {
	if StoreFailure(nil, "op", "msg") != nil {
		t.Error("StoreFailure(nil) should be nil")
	}
	if RemoteFailure(nil, "op", "msg") != nil {
		t.Error("RemoteFailure(nil) should be nil")
	}
}

func TestCodeOfSentinels(t *testing.T) {
	if got := CodeOf(ErrNotFound); got != CodeNotFound {
		t.Errorf("CodeOf(ErrNotFound) = %q", got)
	}
	// 无错误码的外层 AppError 按类别回落
	if got := CodeOf(Wrap(StoreFailure(io.EOF, "store.Lookup", "query"), "archive.Fetch", "run")); got != CodeStoreFailure {
		t.Errorf("CodeOf(wrapped store failure) = %q", got)
	}
	if got := CodeOf(io.EOF); got != CodeInternal {
		t.Errorf("CodeOf(io.EOF) = %q", got)
	}
}
