package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "record not found")
	wrapped := fmt.Errorf("load car: %w", Wrap(CodeNotFound, "stream missing", stderrors.New("no rows")))

	if !stderrors.Is(wrapped, sentinel) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if stderrors.Is(wrapped, New(CodeConcurrencyConflict, "conflict")) {
		t.Fatal("expected different code not to match")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeStoreUnavailable, "append events", stderrors.New("database is locked"))
	if got, want := err.Error(), "append events: database is locked"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got, want := New(CodeNotFound, "missing").Error(), "missing"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("outer: %w", New(CodeApplyFailure, "boom"))); got != CodeApplyFailure {
		t.Fatalf("CodeOf = %s, want %s", got, CodeApplyFailure)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %s, want %s", got, CodeUnknown)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeUnknownEventType, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConcurrencyConflict, http.StatusConflict},
		{CodeStoreUnavailable, http.StatusServiceUnavailable},
		{CodeApplyFailure, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}
