package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Percent returns part/whole as a percentage rounded to two decimals, 0 when
// whole is not positive.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

// FormatPercent keeps consistent decimal formatting for rate fields.
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// FormatCount renders an integer with thousand separators.
func FormatCount(n int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	str := strconv.Itoa(n)
	var out strings.Builder
	for i, c := range str {
		if i != 0 && (len(str)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(c)
	}
	return sign + out.String()
}
