package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown"},
		{KindInvalidInput, "invalid_input"},
		{KindAuthentication, "authentication"},
		{KindAuthorization, "authorization"},
		{KindNotFound, "not_found"},
		{KindRateLimit, "rate_limit"},
		{KindTimeout, "timeout"},
		{KindNetwork, "network"},
		{KindServer, "server"},
		{KindResolution, "resolution"},
		{KindInternal, "internal"},
		{Kind(99), "unknown"}, // Invalid kind
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "op and message and err",
			err:      &Error{Op: "casestore.PostReport", Message: "post failed", Err: fmt.Errorf("connection refused")},
			expected: "casestore.PostReport: post failed: connection refused",
		},
		{
			name:     "op and message",
			err:      &Error{Op: "casestore.PostReport", Message: "post failed"},
			expected: "casestore.PostReport: post failed",
		},
		{
			name:     "message and err",
			err:      &Error{Message: "post failed", Err: fmt.Errorf("connection refused")},
			expected: "post failed: connection refused",
		},
		{
			name:     "message only",
			err:      &Error{Message: "post failed"},
			expected: "post failed",
		},
		{
			name:     "empty error",
			err:      &Error{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err1 := &Error{Kind: KindResolution, Message: "missing exposure tag"}
	err2 := &Error{Kind: KindResolution, Message: "unknown asset type"}
	err3 := &Error{Kind: KindNetwork, Message: "missing exposure tag"}

	if !err1.Is(err2) {
		t.Error("Errors with same Kind should match")
	}
	if err1.Is(err3) {
		t.Error("Errors with different Kind should not match")
	}
	if err1.Is(fmt.Errorf("some error")) {
		t.Error("Should not match non-Error type")
	}
}

func TestE_Constructor(t *testing.T) {
	underlying := fmt.Errorf("underlying")

	err := E(KindResolution, "profile.Resolve", "missing exposure tag", underlying)
	e, ok := err.(*Error)
	if !ok {
		t.Fatal("E() should return *Error")
	}
	if e.Kind != KindResolution {
		t.Errorf("Kind = %v, want KindResolution", e.Kind)
	}
	if e.Op != "profile.Resolve" {
		t.Errorf("Op = %q, want 'profile.Resolve'", e.Op)
	}
	if e.Message != "missing exposure tag" {
		t.Errorf("Message = %q, want 'missing exposure tag'", e.Message)
	}
	if e.Err != underlying {
		t.Error("Err should be set")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")

	wrapped := Wrap(underlying, "analyzer.GetVerdicts")
	if e, ok := wrapped.(*Error); ok {
		if e.Op != "analyzer.GetVerdicts" {
			t.Errorf("Wrap() should set Op, got %q", e.Op)
		}
		if e.Err != underlying {
			t.Error("Wrap() should set Err")
		}
	}

	if Wrap(nil, "op") != nil {
		t.Error("Wrap(nil, op) should return nil")
	}
}

func TestGetKind(t *testing.T) {
	err := &Error{Kind: KindRateLimit}
	if kind := GetKind(err); kind != KindRateLimit {
		t.Errorf("GetKind() = %v, want KindRateLimit", kind)
	}

	wrapped := fmt.Errorf("wrapper: %w", err)
	if kind := GetKind(wrapped); kind != KindRateLimit {
		t.Errorf("GetKind() from wrapped = %v, want KindRateLimit", kind)
	}

	if kind := GetKind(fmt.Errorf("plain error")); kind != KindUnknown {
		t.Errorf("GetKind() from plain error = %v, want KindUnknown", kind)
	}
}

func TestAsAPIError(t *testing.T) {
	apiErr := &APIError{StatusCode: 400, Message: "Invalid"}

	if got, ok := AsAPIError(apiErr); !ok || got != apiErr {
		t.Error("AsAPIError should recognize *APIError")
	}

	wrapped := fmt.Errorf("wrapper: %w", apiErr)
	if got, ok := AsAPIError(wrapped); !ok || got != apiErr {
		t.Error("AsAPIError should recognize wrapped *APIError")
	}

	if _, ok := AsAPIError(fmt.Errorf("plain error")); ok {
		t.Error("AsAPIError should return false for non-APIError")
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"authentication kind", &Error{Kind: KindAuthentication}, true},
		{"authorization kind", &Error{Kind: KindAuthorization}, true},
		{"401 unauthorized", &APIError{StatusCode: http.StatusUnauthorized}, true},
		{"403 forbidden", &APIError{StatusCode: http.StatusForbidden}, true},
		{"404 not found", &APIError{StatusCode: http.StatusNotFound}, false},
		{"network kind", &Error{Kind: KindNetwork}, false},
		{"plain error", fmt.Errorf("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsResolution(t *testing.T) {
	if !IsResolution(&Error{Kind: KindResolution}) {
		t.Error("Should recognize KindResolution")
	}
	if IsResolution(&Error{Kind: KindNetwork}) {
		t.Error("Should not match non-resolution error")
	}

	wrapped := fmt.Errorf("scoring case c1: %w", &Error{Kind: KindResolution})
	if !IsResolution(wrapped) {
		t.Error("Should recognize wrapped resolution error")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&Error{Kind: KindNotFound}) {
		t.Error("Should recognize KindNotFound")
	}
	if !IsNotFound(&APIError{StatusCode: http.StatusNotFound}) {
		t.Error("Should recognize 404 status")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limit", &Error{Kind: KindRateLimit}, true},
		{"network", &Error{Kind: KindNetwork}, true},
		{"timeout", &Error{Kind: KindTimeout}, true},
		{"server", &Error{Kind: KindServer}, true},
		{"429 too many requests", &APIError{StatusCode: 429}, true},
		{"500 server error", &APIError{StatusCode: 500}, true},
		{"502 bad gateway", &APIError{StatusCode: 502}, true},
		{"503 service unavailable", &APIError{StatusCode: 503}, true},
		{"504 gateway timeout", &APIError{StatusCode: 504}, true},
		{"501 not implemented", &APIError{StatusCode: 501}, false},
		{"400 bad request", &APIError{StatusCode: 400}, false},
		{"401 unauthorized", &APIError{StatusCode: 401}, false},
		{"403 forbidden", &APIError{StatusCode: 403}, false},
		{"404 not found", &APIError{StatusCode: 404}, false},
		{"authentication error", &Error{Kind: KindAuthentication}, false},
		{"resolution error", &Error{Kind: KindResolution}, false},
		{"invalid input", &Error{Kind: KindInvalidInput}, false},
		{"plain error", fmt.Errorf("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"ErrTimeout", ErrTimeout, KindTimeout},
		{"ErrRateLimited", ErrRateLimited, KindRateLimit},
		{"ErrInvalidConfig", ErrInvalidConfig, KindInvalidInput},
		{"ErrMissingAPIKey", ErrMissingAPIKey, KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("%s.Kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	base := fmt.Errorf("base error")
	wrapped := &Error{Kind: KindNetwork, Message: "network failure", Err: base}

	if !errors.Is(wrapped, base) {
		t.Error("errors.Is should find base error through Unwrap")
	}

	var typed *Error
	if !errors.As(wrapped, &typed) {
		t.Error("errors.As should find *Error")
	}
	if typed.Kind != KindNetwork {
		t.Error("errors.As should return the correct error")
	}
}

func BenchmarkIsTransient(b *testing.B) {
	err := &APIError{StatusCode: 503}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsTransient(err)
	}
}
