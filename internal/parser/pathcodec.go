package parser

import (
	"fmt"
	"strings"
)

// Path keys travel through layers that treat "." as a structural separator,
// so every file path is encoded before leaving the parser. The mapping is
// total and invertible: "~" is escaped as "~~" and "." as "~d".
const (
	escapeChar = '~'
	dotCode    = 'd'
)

// EncodePath encodes a file path so it contains no ".".
func EncodePath(p string) string {
	if !strings.ContainsAny(p, ".~") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p) + 8)
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case escapeChar:
			b.WriteByte(escapeChar)
			b.WriteByte(escapeChar)
		case '.':
			b.WriteByte(escapeChar)
			b.WriteByte(dotCode)
		default:
			b.WriteByte(p[i])
		}
	}
	return b.String()
}

// DecodePath reverses EncodePath.
func DecodePath(enc string) (string, error) {
	if !strings.ContainsRune(enc, escapeChar) {
		if strings.ContainsRune(enc, '.') {
			return "", fmt.Errorf("decode path %q: unescaped '.'", enc)
		}
		return enc, nil
	}
	var b strings.Builder
	b.Grow(len(enc))
	for i := 0; i < len(enc); i++ {
		c := enc[i]
		if c == '.' {
			return "", fmt.Errorf("decode path %q: unescaped '.' at %d", enc, i)
		}
		if c != escapeChar {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(enc) {
			return "", fmt.Errorf("decode path %q: dangling escape", enc)
		}
		i++
		switch enc[i] {
		case escapeChar:
			b.WriteByte(escapeChar)
		case dotCode:
			b.WriteByte('.')
		default:
			return "", fmt.Errorf("decode path %q: bad escape %q", enc, enc[i])
		}
	}
	return b.String(), nil
}

// MustDecodePath decodes a path produced by EncodePath and panics otherwise.
func MustDecodePath(enc string) string {
	p, err := DecodePath(enc)
	if err != nil {
		panic(err)
	}
	return p
}
