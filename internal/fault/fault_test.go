package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Validation, "list_paths must take %d arguments", 0)
	if KindOf(err) != Validation {
		t.Errorf("got kind %v, want Validation", KindOf(err))
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("plain error should report Unknown")
	}
	if KindOf(nil) != Unknown {
		t.Error("nil error should report Unknown")
	}
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(Permission, "this source can not be edited")
	outer := fmt.Errorf("update source: %w", inner)
	if KindOf(outer) != Permission {
		t.Errorf("got kind %v, want Permission through fmt.Errorf chain", KindOf(outer))
	}
}

func TestWrapPreservesMessage(t *testing.T) {
	cause := errors.New("exit status 1: SyntaxError near line 3")
	err := Wrap(Execution, cause, "get_data")
	if got := err.Error(); got != "get_data: exit status 1: SyntaxError near line 3" {
		t.Errorf("unexpected message: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(IO, nil, "write") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Validation, http.StatusBadRequest},
		{Load, http.StatusBadRequest},
		{Permission, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Execution, http.StatusInternalServerError},
		{External, http.StatusBadGateway},
		{Timeout, http.StatusGatewayTimeout},
		{IO, http.StatusInternalServerError},
		{Unknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("%v: got status %d, want %d", c.kind, got, c.want)
		}
	}
}
