package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWalksWrapChain(t *testing.T) {
	base := NotFound("business %s missing", "b1")
	wrapped := fmt.Errorf("engine: enqueue: %w", base)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("expected not_found through wrap chain, got %s", KindOf(wrapped))
	}
	if !IsKind(wrapped, KindNotFound) {
		t.Fatal("IsKind should match through the wrap chain")
	}
}

func TestUntaggedErrorsAreInternal(t *testing.T) {
	err := errors.New("pgx: connection refused")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal, got %s", KindOf(err))
	}
	if Message(err) != "internal error" {
		t.Fatalf("driver detail leaked: %q", Message(err))
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", HTTPStatus(err))
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{InvalidArgument("bad field"), http.StatusBadRequest},
		{Unauthorized("no token"), http.StatusUnauthorized},
		{Forbidden("not your entry"), http.StatusForbidden},
		{NotFound("entry missing"), http.StatusNotFound},
		{FailedPrecondition("cannot complete from position 3"), http.StatusBadRequest},
		{Conflict("concurrent update"), http.StatusConflict},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, got)
		}
	}
}

func TestMessageKeepsCallerSafeText(t *testing.T) {
	err := Wrap(KindFailedPrecondition, "cannot skip: no successor in lane", errors.New("row state stale"))
	if Message(err) != "cannot skip: no successor in lane" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("Unwrap should expose the cause")
	}
}
