package validation

import (
	"errors"
	"strings"
	"testing"
)

type signup struct {
	Username string   `json:"username" validate:"required,min=3,max=32"`
	Email    string   `json:"email" validate:"required,email"`
	Tags     []string `json:"tags" validate:"max=2,dive,max=5"`
}

func TestStructValid(t *testing.T) {
	if err := Struct(signup{Username: "alice", Email: "a@example.com"}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(signup{Username: "al", Email: "nope", Tags: []string{"a", "b", "c"}})
	var verr *RequestValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected RequestValidationError, got %T", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", verr.Fields)
	}
	msg := verr.Error()
	for _, want := range []string{
		"username must be at least 3 characters",
		"email must be a valid email address",
		"tags must be at most 2 items",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
