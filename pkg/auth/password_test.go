package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("empty stored hash must never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Str0ng#Password!"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	tests := []struct {
		password string
		want     error
	}{
		{"short1!A", ErrPasswordTooShort},
		{"Aa1!" + strings.Repeat("x", 80), ErrPasswordTooLong},
		{"alllowercase123!", ErrPasswordTooWeak},
		{"ALLUPPERCASE123!", ErrPasswordTooWeak},
		{"NoDigitsHere!!!", ErrPasswordTooWeak},
		{"NoSpecials1234", ErrPasswordTooWeak},
	}
	for _, tc := range tests {
		if err := ValidatePassword(tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}
