package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("business"), http.StatusNotFound},
		{fmt.Errorf("load: %w", NotFound("service")), http.StatusNotFound},
		{Validation("bad date %q", "2025-13-01"), http.StatusBadRequest},
		{Conflict("time slot already booked"), http.StatusConflict},
		{Upstream("google busy", errors.New("timeout")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessages(t *testing.T) {
	if got := NotFound("business").Error(); got != "business not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(errors.New("pq: secret detail")); got != "internal error" {
		t.Fatalf("internal errors must be hidden, got %q", got)
	}
	inner := errors.New("dial tcp: refused")
	if !errors.Is(Upstream("outlook busy", inner), inner) {
		t.Fatal("upstream error must keep the cause")
	}
}
