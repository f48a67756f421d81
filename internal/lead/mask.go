package lead

import "strings"

// MaskPhone hides every digit of a phone number except the first three and
// the last four. Separators are kept: 010-1234-5678 becomes 010-****-5678.
// Numbers too short to keep both ends are masked entirely.
func MaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if isDigit(r) {
			digits++
		}
	}
	head, tail := 3, 4
	if digits <= head+tail {
		head, tail = 0, 0
	}

	var b strings.Builder
	seen := 0
	for _, r := range phone {
		if !isDigit(r) {
			b.WriteRune(r)
			continue
		}
		seen++
		if seen <= head || seen > digits-tail {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
