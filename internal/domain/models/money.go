package models

import "fmt"

// FormatCents форматирует сумму в центах строкой с двумя знаками: 2500 -> "25.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
