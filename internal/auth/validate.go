package auth

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/keygate/backend/internal/errors"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// normalizeEmail is the canonical form used for storage, lookup and rate-limit
// keys. Email uniqueness is case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateRegistration checks the registration inputs and returns a
// field-tagged validation error for the first rule violated.
func validateRegistration(email, password, confirmPassword string) *apperrors.AppError {
	if email == "" {
		return apperrors.ValidationError("email is required").WithField("email")
	}
	if !emailRegex.MatchString(email) {
		return apperrors.ValidationError("invalid email format").WithField("email")
	}
	if password == "" {
		return apperrors.ValidationError("password is required").WithField("password")
	}
	if err := validatePasswordPolicy(password); err != nil {
		return err
	}
	if password != confirmPassword {
		return apperrors.ValidationError("passwords do not match").WithField("confirmPassword")
	}
	return nil
}

// validatePasswordPolicy enforces: at least 8 characters, one uppercase
// letter, one digit, one special character.
func validatePasswordPolicy(password string) *apperrors.AppError {
	if utf8.RuneCountInString(password) < 8 {
		return apperrors.ValidationError("password must be at least 8 characters").WithField("password")
	}

	var hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		return apperrors.ValidationError("password must contain an uppercase letter").WithField("password")
	}
	if !hasDigit {
		return apperrors.ValidationError("password must contain a digit").WithField("password")
	}
	if !hasSpecial {
		return apperrors.ValidationError("password must contain a special character").WithField("password")
	}
	return nil
}
