package payment

import "strings"

// NormalizePhone converts a Kenyan mobile number to the 2547XXXXXXXX /
// 2541XXXXXXXX form the provider requires. Non-digits are stripped first.
// The second result is false when the input cannot be normalized; callers
// treat that as a validation failure.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case (strings.HasPrefix(digits, "07") || strings.HasPrefix(digits, "01")) && len(digits) == 10:
		return "254" + digits[1:], true
	case strings.HasPrefix(digits, "254") && len(digits) == 12:
		return digits, true
	case (strings.HasPrefix(digits, "7") || strings.HasPrefix(digits, "1")) && len(digits) == 9:
		return "254" + digits, true
	}
	return "", false
}
