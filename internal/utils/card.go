package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"unicode"
)

// CardNumberLength is the length of every issued card number
const CardNumberLength = 16

// GenerateCardNumber generates a card number with the specified prefix and length.
// Digits come from crypto/rand; bytes >= 250 are discarded so every digit is uniform.
func GenerateCardNumber(prefix string, length int) (string, error) {
	if length < len(prefix) || length > 19 {
		return "", fmt.Errorf("invalid card number length: %d", length)
	}
	if !IsDigits(prefix) {
		return "", fmt.Errorf("card number prefix must be digits: %q", prefix)
	}

	var builder strings.Builder
	builder.Grow(length)
	builder.WriteString(prefix)

	buf := make([]byte, length)
	for builder.Len() < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random digits: %w", err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			builder.WriteByte(b%10 + '0')
			if builder.Len() == length {
				break
			}
		}
	}

	return builder.String(), nil
}

// MaskCardNumber hides all but the last four digits
func MaskCardNumber(number string) string {
	if len(number) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + number[len(number)-4:]
}

// IsDigits reports whether s is a non-empty run of ASCII digits
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
