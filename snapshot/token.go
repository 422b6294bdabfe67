package snapshot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidToken is returned by ParseToken for unrecognized formats.
var ErrInvalidToken = errors.New("snapshot: invalid version token")

// Token is a parsed version request. Month is always set (YYYYMM); Day is
// set (YYYYMMDD) when the request had day granularity.
type Token struct {
	Raw   string
	Month string
	Day   string
}

var (
	reMonth  = regexp.MustCompile(`^(\d{4})(\d{2})$`)
	reDay    = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	reISODay = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reISOMon = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
)

// ParseToken accepts YYYYMM, YYYYMMDD, YYYY-MM-DD and YYYY-MM.
func ParseToken(s string) (Token, error) {
	raw := strings.TrimSpace(s)
	t := Token{Raw: raw}
	var y, m, d string
	switch {
	case reMonth.MatchString(raw):
		p := reMonth.FindStringSubmatch(raw)
		y, m = p[1], p[2]
	case reDay.MatchString(raw):
		p := reDay.FindStringSubmatch(raw)
		y, m, d = p[1], p[2], p[3]
	case reISODay.MatchString(raw):
		p := reISODay.FindStringSubmatch(raw)
		y, m, d = p[1], p[2], p[3]
	case reISOMon.MatchString(raw):
		p := reISOMon.FindStringSubmatch(raw)
		y, m = p[1], p[2]
	default:
		return t, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}

	if d == "" {
		if _, err := time.Parse("200601", y+m); err != nil {
			return t, fmt.Errorf("%w: %q", ErrInvalidToken, s)
		}
	} else {
		if _, err := time.Parse("20060102", y+m+d); err != nil {
			return t, fmt.Errorf("%w: %q", ErrInvalidToken, s)
		}
		t.Day = y + m + d
	}
	t.Month = y + m
	return t, nil
}

// VersionID is the identifier a build for this token is stored under.
// Day-granular tokens are normalized to their month.
func (t Token) VersionID() string { return t.Month }
