package raw

import (
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Text decodes the string bytes for display. Strings starting with a
// UTF-16BE byte order mark are decoded as UTF-16 and NFKC-normalized;
// everything else is returned byte-for-byte.
func (s StringObj) Text() string {
	if isUTF16BE(s.Bytes) {
		return decodeUTF16BE(s.Bytes[2:])
	}
	return string(s.Bytes)
}

func isUTF16BE(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF
}

func decodeUTF16BE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return norm.NFKC.String(string(utf16.Decode(units)))
}
