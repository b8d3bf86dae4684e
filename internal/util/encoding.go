package util

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"
)

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// NarrowDigits folds full-width and other East Asian wide forms to their
// ASCII equivalents and trims surrounding space. Mobile keyboards sometimes
// produce "１２３４５６" for a verification code.
func NarrowDigits(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}

// Mask keeps the first n runes of s and replaces the rest with "***".
func Mask(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s + "***"
	}
	runes := []rune(s)
	return string(runes[:n]) + "***"
}
