// Package numfmt normalizes numbers scraped from the exchange's tables.
package numfmt

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Normalizer interprets cell text in the source locale ('.' groups thousands,
// ',' marks decimals) and re-renders numbers in the canonical #,###.## form.
type Normalizer struct {
	grouping string
	decimal  string
}

// New builds a Normalizer for the exchange's source locale.
func New() *Normalizer {
	return &Normalizer{
		grouping: ".",
		decimal:  ",",
	}
}

// Normalize returns the canonical rendering of value, or value unchanged when
// it does not parse as a number.
func (n *Normalizer) Normalize(value string) string {
	d, ok := n.parse(value)
	if !ok {
		return value
	}
	return render(d)
}

// render formats d with two fraction digits and comma-grouped thousands
// without leaving decimal arithmetic.
func render(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")
	if strings.Trim(intPart, "0") == "" && strings.Trim(frac, "0") == "" {
		sign = ""
	}
	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func (n *Normalizer) parse(value string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(value)
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, "\u00a0", "")
	if raw == "" {
		return decimal.Decimal{}, false
	}
	if strings.Count(raw, n.decimal) > 1 {
		return decimal.Decimal{}, false
	}
	raw = strings.ReplaceAll(raw, n.grouping, "")
	raw = strings.Replace(raw, n.decimal, ".", 1)
	if !plainNumber(raw) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// plainNumber rejects inputs decimal would otherwise accept, such as exponents.
func plainNumber(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}
