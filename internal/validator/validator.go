package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
	ErrTermsTooLong    = errors.New("terms too long")
	ErrInvalidRails    = errors.New("invalid payment rails")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

const (
	maxTermsLength = 500
	maxRails       = 10
)

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func ValidateTerms(terms string) error {
	if len(terms) > maxTermsLength {
		return ErrTermsTooLong
	}
	return nil
}

func ValidateRails(rails []string) error {
	if len(rails) > maxRails {
		return ErrInvalidRails
	}
	for _, rail := range rails {
		if rail == "" || len(rail) > 50 {
			return ErrInvalidRails
		}
	}
	return nil
}
