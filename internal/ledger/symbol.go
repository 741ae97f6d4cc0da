package ledger

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxSymbolLength bounds generated token symbols
const MaxSymbolLength = 32

// ValidateTokenSymbol checks a symbol is 1-32 characters of upper-case letters, digits and dashes
func ValidateTokenSymbol(symbol string) error {
	if len(symbol) < 1 || len(symbol) > MaxSymbolLength {
		return fmt.Errorf("token symbol must be 1-%d characters long", MaxSymbolLength)
	}

	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-') {
			return fmt.Errorf("token symbol can only contain upper-case letters, digits and dashes")
		}
	}

	return nil
}

// SymbolPart upper-cases s and keeps only letters and digits
func SymbolPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
