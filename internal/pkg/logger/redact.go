package logger

import "strings"

// RedactPhone masks a phone number for safe logging, keeping the country
// prefix and the last two digits.
// "+14155551234" → "+14*******34"
// Numbers too short to mask meaningfully (≤6 digits) are fully masked.
func RedactPhone(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}

	// Count digits; formatting characters are dropped from the output.
	var digits []byte
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) <= 6 {
		return "***"
	}

	prefix := ""
	if strings.HasPrefix(trimmed, "+") {
		prefix = "+"
	}
	head := string(digits[:2])
	tail := string(digits[len(digits)-2:])
	return prefix + head + strings.Repeat("*", len(digits)-4) + tail
}
