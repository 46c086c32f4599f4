package apperror

import (
	"errors"
	"fmt"
	"testing"
)

var kinds = []error{
	ErrNotFound, ErrValidation, ErrConflict, ErrForbidden,
	ErrUnauthenticated, ErrUnavailable, ErrUpstream,
}

// Each constructor matches exactly one kind.
func TestConstructorsMatchOneKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"NotFound", NotFound("snippet", "abc123"), ErrNotFound},
		{"ValidationFailed", ValidationFailed("title", "title is required"), ErrValidation},
		{"Conflict", Conflict("user", "ada@example.com"), ErrConflict},
		{"Forbidden", Forbidden("not your snippet"), ErrForbidden},
		{"Unauthenticated", Unauthenticated(), ErrUnauthenticated},
		{"StoreFailure", StoreFailure("find", errors.New("disk I/O error")), ErrUnavailable},
		{"Upstream", Upstream("model failed", errors.New("429")), ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range kinds {
				want := k == tt.kind
				if got := errors.Is(tt.err, k); got != want {
					t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, k, got, want)
				}
			}
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("service: update: %w", NotFound("snippet", "abc123"))

	if !errors.Is(err, ErrNotFound) {
		t.Fatal("wrapped NotFound lost its kind")
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As could not reach the AppError")
	}
	if appErr.Message != "snippet not found with id abc123" {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		err  *AppError
		want string
	}{
		{NotFound("snippet", "abc123"), "snippet not found with id abc123"},
		{ValidationFailed("title", "title is required"), "title is required"},
		{Conflict("snippet", "abc123"), "snippet conflict with id abc123"},
		{Unauthenticated(), "sign in to continue"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	if got := NotFound("snippet", "x").Unwrap(); len(got) != 1 || got[0] != ErrNotFound {
		t.Errorf("Unwrap() without cause = %v", got)
	}

	cause := errors.New("connection refused")
	got := Upstream("failed to generate explanation", cause).Unwrap()
	if len(got) != 2 || got[0] != ErrUpstream || got[1] != cause {
		t.Errorf("Unwrap() with cause = %v", got)
	}
}

func TestCauseStaysOutOfMessage(t *testing.T) {
	cause := errors.New("database is locked")
	err := StoreFailure("list", cause)

	if !errors.Is(err, cause) {
		t.Error("cause should still match errors.Is")
	}
	if err.Error() == cause.Error() {
		t.Errorf("Error() leaked the cause: %q", err.Error())
	}
	if err.Field != "list" {
		t.Errorf("Field = %q, want the store operation", err.Field)
	}
}
