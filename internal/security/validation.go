// Package security validates instrument input from the command line and
// masks credentials before they are displayed or logged.
package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// Validation patterns
var (
	// Instrument names: GOLD_24DEC, M&M, EURUSD, BTC-USD
	symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_&.-]{0,31}$`)

	// Feed tokens are sent verbatim as the first socket frame
	tokenPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,32}$`)
)

// sensitiveFields are query parameters whose values are masked.
var sensitiveFields = map[string]bool{
	"api_key":      true,
	"apikey":       true,
	"key":          true,
	"secret":       true,
	"password":     true,
	"token":        true,
	"access_token": true,
	"auth_token":   true,
}

// ValidationError represents an invalid command-line value.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// ValidateSymbol checks an instrument name after SanitizeSymbol.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "symbol cannot be empty"}
	}
	if len(symbol) > 32 {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "symbol too long (max 32 characters)"}
	}
	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "invalid symbol format"}
	}
	return nil
}

// ValidateToken checks a domestic feed token.
func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return &ValidationError{Field: "token", Value: token, Message: "token must be 1-32 letters, digits, ':', '_' or '-'"}
	}
	return nil
}

// SanitizeSymbol upper-cases and trims symbol and drops characters that
// never appear in instrument names.
func SanitizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	var result strings.Builder
	for _, r := range symbol {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_&.-", r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskURL masks the password in raw's user info and the values of
// sensitive query parameters. Unparseable input is masked whole.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return MaskCredential(raw)
	}

	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), MaskCredential(pw))
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k, vals := range q {
			if !sensitiveFields[strings.ToLower(k)] {
				continue
			}
			for i, v := range vals {
				vals[i] = MaskCredential(v)
			}
			q[k] = vals
		}
		u.RawQuery = q.Encode()
	}

	// Keep the mask readable instead of percent-encoded.
	return strings.ReplaceAll(u.String(), "%2A", "*")
}
