package tariff

import "strings"

// IsNumeric reports whether s is non-empty and all ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Digits strips dots and whitespace from a code.
func Digits(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, code)
}

// Punctuate renders digits in the canonical 4-2-2-2 grouping:
// "2004100000" -> "2004.10.00.00". A trailing odd digit forms its own group.
func Punctuate(digits string) string {
	if len(digits) <= 4 {
		return digits
	}
	var b strings.Builder
	b.WriteString(digits[:4])
	for i := 4; i < len(digits); i += 2 {
		end := min(i+2, len(digits))
		b.WriteByte('.')
		b.WriteString(digits[i:end])
	}
	return b.String()
}

// Alternate returns the other representation of code: the stripped form for
// a punctuated code, the punctuated form for a purely numeric one. It
// returns "" when there is no distinct alternate.
func Alternate(code string) string {
	code = strings.TrimSpace(code)
	var alt string
	switch {
	case strings.Contains(code, "."):
		alt = Digits(code)
	case IsNumeric(code):
		alt = Punctuate(code)
	}
	if alt == code {
		return ""
	}
	return alt
}

// ChapterOf returns the two-digit chapter of a code, or "".
func ChapterOf(code string) string {
	d := Digits(code)
	if len(d) < 2 || !IsNumeric(d[:2]) {
		return ""
	}
	return d[:2]
}
