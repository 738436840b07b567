package validation

import (
	"errors"
	"strings"
)

// ErrTickerEmpty is returned when the ticker is empty or whitespace-only after trim.
var ErrTickerEmpty = errors.New("ticker is required")

// ErrTickerTooShort is returned when the ticker length is below the minimum.
var ErrTickerTooShort = errors.New("ticker too short")

// ErrTickerTooLong is returned when the ticker length exceeds the maximum.
var ErrTickerTooLong = errors.New("ticker too long")

// ErrTickerInvalidChars is returned when the ticker contains disallowed characters.
var ErrTickerInvalidChars = errors.New("ticker contains invalid characters")

// ValidateTicker trims the input, strips an optional ".IS" exchange suffix,
// enforces length bounds (minLen, maxLen), and restricts to ASCII letters and
// digits. Returns the trimmed bare symbol (without suffix) or an error suitable
// for 400 INVALID_TICKER responses. Case normalization is left to the service layer.
func ValidateTicker(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if upper := strings.ToUpper(s); strings.HasSuffix(upper, ".IS") {
		s = s[:len(s)-3]
	}
	n := len(s)
	if n == 0 {
		return "", ErrTickerEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrTickerTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrTickerTooLong
	}
	for i := 0; i < n; i++ {
		if !isAllowedTickerByte(s[i]) {
			return "", ErrTickerInvalidChars
		}
	}
	return s, nil
}

// isAllowedTickerByte returns true for ASCII letters and digits.
func isAllowedTickerByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	}
	return false
}
