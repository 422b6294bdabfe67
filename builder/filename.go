package builder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	reYearMonth = regexp.MustCompile(`(?:^|\D)(\d{4})[-_](\d{1,2})(?:\D|$)`)
	reMonthYear = regexp.MustCompile(`(?:^|\D)(\d{1,2})[-_](\d{4})(?:\D|$)`)
	reCompact   = regexp.MustCompile(`(?:^|\D)(\d{4})(\d{2})(?:\D|$)`)
	reNameYear  = regexp.MustCompile(`([a-z]+)[-_ ](\d{4})`)
)

var monthNames = map[string]int{
	"enero": 1, "january": 1, "jan": 1, "ene": 1,
	"febrero": 2, "february": 2, "feb": 2,
	"marzo": 3, "march": 3, "mar": 3,
	"abril": 4, "april": 4, "abr": 4, "apr": 4,
	"mayo": 5, "may": 5,
	"junio": 6, "june": 6, "jun": 6,
	"julio": 7, "july": 7, "jul": 7,
	"agosto": 8, "august": 8, "ago": 8, "aug": 8,
	"septiembre": 9, "setiembre": 9, "september": 9, "sep": 9, "set": 9,
	"octubre": 10, "october": 10, "oct": 10,
	"noviembre": 11, "november": 11, "nov": 11,
	"diciembre": 12, "december": 12, "dic": 12, "dec": 12,
}

// VersionFromFilename derives a YYYYMM version from a publication file name
// such as "Arancel_2024-04.xlsx", "arancel_04_2024.xlsx" or
// "arancel_abril_2024.xlsx".
func VersionFromFilename(name string) (string, bool) {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))

	if m := reYearMonth.FindStringSubmatch(base); m != nil {
		if v, ok := version(m[1], m[2]); ok {
			return v, true
		}
	}
	if m := reMonthYear.FindStringSubmatch(base); m != nil {
		if v, ok := version(m[2], m[1]); ok {
			return v, true
		}
	}
	for _, m := range reNameYear.FindAllStringSubmatch(base, -1) {
		if n, ok := monthNames[m[1]]; ok {
			return version(m[2], strconv.Itoa(n))
		}
	}
	if m := reCompact.FindStringSubmatch(base); m != nil {
		return version(m[1], m[2])
	}
	return "", false
}

func version(year, month string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 2999 {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	return fmt.Sprintf("%04d%02d", y, m), true
}
