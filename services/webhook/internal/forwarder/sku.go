package forwarder

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUnits is the largest batch: one letter suffix per unit.
const MaxUnits = 26

// SKUPrefix joins the uppercased initials of the first three purely alphabetic
// words of auctionName with the lot number, e.g. "Spring Farm Sale", "12" -> "SFS-12".
func SKUPrefix(auctionName, lotNumber string) string {
	var initials strings.Builder
	words := 0
	for _, word := range strings.Fields(auctionName) {
		if words == 3 {
			break
		}
		if !isAlpha(word) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(word)
		initials.WriteString(strings.ToUpper(string(r)))
		words++
	}
	return initials.String() + "-" + lotNumber
}

// UnitSKU returns the SKU of unit i (zero based): prefix(a), prefix(b), ...
func UnitSKU(prefix string, i int) string {
	return fmt.Sprintf("%s(%c)", prefix, rune('a'+i))
}

func isAlpha(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
