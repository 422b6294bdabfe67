package tariff

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultRomanMax is the highest section number in the current nomenclature.
const DefaultRomanMax = 21

// RomanTable maps canonical roman numerals 1..Max to integers.
type RomanTable struct {
	max   int
	value map[string]int
}

// NewRomanTable builds a table for 1..max. max <= 0 selects DefaultRomanMax.
func NewRomanTable(max int) RomanTable {
	if max <= 0 {
		max = DefaultRomanMax
	}
	t := RomanTable{max: max, value: make(map[string]int, max)}
	for n := 1; n <= max; n++ {
		t.value[toRoman(n)] = n
	}
	return t
}

// Max returns the highest numeral the table recognizes.
func (t RomanTable) Max() int { return t.max }

// Value returns the integer for a numeral, case-insensitive.
func (t RomanTable) Value(s string) (int, bool) {
	if t.value == nil {
		t = NewRomanTable(0)
	}
	n, ok := t.value[strings.ToUpper(strings.TrimSpace(s))]
	return n, ok
}

// Numeral returns the canonical numeral for n if it is in range.
func (t RomanTable) Numeral(n int) (string, bool) {
	if t.value == nil {
		t = NewRomanTable(0)
	}
	if n < 1 || n > t.max {
		return "", false
	}
	return toRoman(n), true
}

var romanSteps = []struct {
	n int
	s string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func toRoman(n int) string {
	var b strings.Builder
	for _, st := range romanSteps {
		for n >= st.n {
			b.WriteString(st.s)
			n -= st.n
		}
	}
	return b.String()
}

// NormalizeKey maps a section or chapter identifier to its two-digit key.
// Accepted forms: "07", "7", "VII", "vii" and composite labels such as
// "VII - Plastics" or "07 - Coffee". ok is false when the identifier is not
// recognized.
func NormalizeKey(id string, roman RomanTable) (key string, ok bool) {
	s := strings.TrimSpace(id)
	if i := strings.Index(s, "-"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return "", false
	}
	if IsNumeric(s) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 99 {
			return "", false
		}
		return fmt.Sprintf("%02d", n), true
	}
	n, ok := roman.Value(s)
	if !ok || n > 99 {
		return "", false
	}
	return fmt.Sprintf("%02d", n), true
}

// LabelForms returns the identifier spellings a stored section or chapter
// label may start with for key: zero-padded, bare integer and, when in
// range, the roman numeral.
func LabelForms(key string, roman RomanTable) []string {
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 {
		return nil
	}
	forms := []string{fmt.Sprintf("%02d", n)}
	if bare := strconv.Itoa(n); bare != forms[0] {
		forms = append(forms, bare)
	}
	if r, ok := roman.Numeral(n); ok {
		forms = append(forms, r)
	}
	return forms
}
