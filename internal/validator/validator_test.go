package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"abc", "Alice_99", strings.Repeat("a", 30)}
	for _, username := range valid {
		if err := ValidateUsername(username); err != nil {
			t.Errorf("ValidateUsername(%q) = %v", username, err)
		}
	}
	invalid := []string{"", "ab", "has space", "dash-ed", "ümlaut", strings.Repeat("a", 31)}
	for _, username := range invalid {
		if err := ValidateUsername(username); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("ValidateUsername(%q) = %v, want ErrInvalidUsername", username, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("12345678"); err != nil {
		t.Errorf("8 chars: %v", err)
	}
	if err := ValidatePassword("1234567"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("7 chars: %v, want ErrInvalidPassword", err)
	}
}

func TestValidateTerms(t *testing.T) {
	if err := ValidateTerms(strings.Repeat("x", 500)); err != nil {
		t.Errorf("500 chars: %v", err)
	}
	if err := ValidateTerms(strings.Repeat("x", 501)); !errors.Is(err, ErrTermsTooLong) {
		t.Errorf("501 chars: %v, want ErrTermsTooLong", err)
	}
}

func TestValidateRails(t *testing.T) {
	if err := ValidateRails(nil); err != nil {
		t.Errorf("nil rails: %v", err)
	}
	if err := ValidateRails([]string{"sbp", "card"}); err != nil {
		t.Errorf("two rails: %v", err)
	}
	cases := map[string][]string{
		"empty entry":    {"sbp", ""},
		"oversized name": {strings.Repeat("r", 51)},
		"too many":       make([]string, 11),
	}
	for name, rails := range cases {
		if name == "too many" {
			for i := range rails {
				rails[i] = "rail"
			}
		}
		if err := ValidateRails(rails); !errors.Is(err, ErrInvalidRails) {
			t.Errorf("%s: %v, want ErrInvalidRails", name, err)
		}
	}
}
