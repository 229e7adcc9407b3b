// Package format renders amounts and dates for Indian shoppers.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.MustParse("en-IN"))

// INR formats an amount as rupees grouped per the en-IN locale, e.g. ₹1,234.50.
// Whole amounts drop the paise.
func INR(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	neg := rounded.IsNegative()
	if neg {
		rounded = rounded.Neg()
	}
	whole := rounded.Truncate(0)
	paise := rounded.Sub(whole).Shift(2).IntPart()

	out := "₹" + printer.Sprintf("%d", whole.IntPart())
	if paise != 0 {
		out += fmt.Sprintf(".%02d", paise)
	}
	if neg {
		return "-" + out
	}
	return out
}

// Meters formats a running-material length.
func Meters(m decimal.Decimal) string {
	return strings.TrimSuffix(m.Round(2).String(), ".00") + " m"
}

// Date formats a timestamp as e.g. "2 Mar 2025" in Indian Standard Time.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(ist).Format("2 Jan 2006")
}

var ist = time.FixedZone("IST", 5*60*60+30*60)
