package sst

import (
	"strconv"
	"strings"
)

// Unescape decodes the _xHHHH_ escapes used for characters XML 1.0 cannot
// carry. _x005F_ stands for a literal underscore, so _x005F_x0008_ decodes
// to the text "_x0008_".
func Unescape(s string) string {
	if !strings.Contains(s, "_x") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if i+7 <= len(s) && s[i] == '_' && s[i+1] == 'x' && s[i+6] == '_' {
			if v, err := strconv.ParseUint(s[i+2:i+6], 16, 16); err == nil {
				b.WriteRune(rune(v))
				i += 7
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
