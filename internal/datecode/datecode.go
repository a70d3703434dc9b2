// Package datecode converts calendar dates to and from the YYYYMMDD integers
// the attendance contract keys its records by.
package datecode

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Number is a date encoded as YYYYMMDD.
type Number uint64

// Layout is the textual form accepted by Encode and produced by Decode.
const Layout = "2006-01-02"

// Encode strips the hyphens from a YYYY-MM-DD string and parses the rest as
// base 10. Input is not validated: the leading run of digits is used and a
// string without one encodes to 0.
func Encode(dateText string) Number {
	s := strings.TrimLeftFunc(strings.ReplaceAll(dateText, "-", ""), unicode.IsSpace)
	s = strings.TrimPrefix(s, "+")

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		// saturates on overflow
		return Number(^uint64(0))
	}
	return Number(n)
}

// Decode renders n as YYYY-MM-DD when it has exactly eight digits and as
// plain decimal otherwise.
func Decode(n Number) string {
	return DecodeString(strconv.FormatUint(uint64(n), 10))
}

// DecodeString is Decode for values that are already in decimal text form.
func DecodeString(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
}

// String implements fmt.Stringer.
func (n Number) String() string { return Decode(n) }

// Today returns the UTC calendar date of now as YYYY-MM-DD.
func Today(now time.Time) string {
	return now.UTC().Format(Layout)
}

// SortDescending orders dates most recent first.
func SortDescending(dates []Number) {
	sort.Slice(dates, func(i, j int) bool { return dates[i] > dates[j] })
}

// DecodeAll decodes every date in order.
func DecodeAll(dates []Number) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = Decode(d)
	}
	return out
}
