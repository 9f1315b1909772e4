// Package utils provides formatting and timing helpers shared by the client.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency formats an amount as US dollars with thousands separators,
// e.g. -$1,234.50.
func FormatCurrency(amount float64) string {
	return FormatDecimal(decimal.NewFromFloat(amount))
}

// FormatDecimal formats a decimal amount as US dollars.
func FormatDecimal(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)

	parts := strings.SplitN(str, ".", 2)
	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative && str != "0.00" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var sb strings.Builder
	head := n % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats a signed dollar change, e.g. +$1.50.
func FormatChange(change float64) string {
	formatted := FormatCurrency(change)
	if change > 0 && formatted != "$0.00" {
		return "+" + formatted
	}
	return formatted
}

// FormatShares formats a share count with thousands separators.
func FormatShares(shares int) string {
	if shares < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -shares))
	}
	return groupThousands(fmt.Sprintf("%d", shares))
}
