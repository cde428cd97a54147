package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minStrongPasswordLen = 8
	maxPasswordLen       = 128
	specialCharacters    = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`
)

// Password strength problems.
const (
	msgPasswordTooShort  = "Password must be at least 8 characters long"
	msgPasswordTooLong   = "Password must be less than 128 characters"
	msgPasswordNoUpper   = "Password must contain at least one uppercase letter"
	msgPasswordNoLower   = "Password must contain at least one lowercase letter"
	msgPasswordNoDigit   = "Password must contain at least one number"
	msgPasswordNoSpecial = "Password should contain at least one special character"
)

// PasswordCheck is the outcome of a strength check.
type PasswordCheck struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// CheckPasswordStrength lists every rule the password breaks. Lengths are
// counted in characters; letters and digits are ASCII classes.
func CheckPasswordStrength(password string) PasswordCheck {
	problems := []string{}
	length := utf8.RuneCountInString(password)

	if length < minStrongPasswordLen {
		problems = append(problems, msgPasswordTooShort)
	}

	if length > maxPasswordLen {
		problems = append(problems, msgPasswordTooLong)
	}

	if !containsRune(password, isASCIIUpper) {
		problems = append(problems, msgPasswordNoUpper)
	}

	if !containsRune(password, isASCIILower) {
		problems = append(problems, msgPasswordNoLower)
	}

	if !containsRune(password, isASCIIDigit) {
		problems = append(problems, msgPasswordNoDigit)
	}

	if !strings.ContainsAny(password, specialCharacters) {
		problems = append(problems, msgPasswordNoSpecial)
	}

	return PasswordCheck{IsValid: len(problems) == 0, Errors: problems}
}

func containsRune(s string, match func(rune) bool) bool {
	return strings.IndexFunc(s, match) >= 0
}

func isASCIIUpper(r rune) bool {
	return r <= unicode.MaxASCII && unicode.IsUpper(r)
}

func isASCIILower(r rune) bool {
	return r <= unicode.MaxASCII && unicode.IsLower(r)
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
