package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = `!@#$%^&*(),.?\":{}|<>`

// PasswordRule names one predicate of the password policy.
type PasswordRule string

const (
	RuleMinLength PasswordRule = "min_length"
	RuleUppercase PasswordRule = "uppercase"
	RuleLowercase PasswordRule = "lowercase"
	RuleDigit     PasswordRule = "digit"
	RuleSymbol    PasswordRule = "symbol"
)

// ValidatePassword reports whether password satisfies every rule.
func ValidatePassword(password string) bool {
	return len(PasswordViolations(password)) == 0
}

// PasswordViolations returns the rules password fails, in a fixed order.
func PasswordViolations(password string) []PasswordRule {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	var failed []PasswordRule
	if utf8.RuneCountInString(password) < MinPasswordLength {
		failed = append(failed, RuleMinLength)
	}
	if !upper {
		failed = append(failed, RuleUppercase)
	}
	if !lower {
		failed = append(failed, RuleLowercase)
	}
	if !digit {
		failed = append(failed, RuleDigit)
	}
	if !symbol {
		failed = append(failed, RuleSymbol)
	}
	return failed
}
