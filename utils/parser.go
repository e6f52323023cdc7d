package utils

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// priceJunk matches everything that can't be part of a number: currency
// signs, letters, regular and non-breaking spaces.
var priceJunk = regexp.MustCompile(`[^\d.,]+`)

// NormalizePrice cleans a price string like "1 999 ₽" or "1,999.00" and
// converts it to a float64. It returns nil when the string has no digits.
//
// The last '.' or ',' is treated as the decimal point only when it is
// followed by one or two digits; every other separator is a thousands
// separator and is dropped.
func NormalizePrice(priceStr string) *float64 {
	cleaned := priceJunk.ReplaceAllString(priceStr, "")
	cleaned = strings.Trim(cleaned, ".,")
	if !strings.ContainsAny(cleaned, "0123456789") {
		return nil
	}

	intPart, fracPart := cleaned, ""
	if i := strings.LastIndexAny(cleaned, ".,"); i >= 0 {
		tail := cleaned[i+1:]
		if len(tail) == 1 || len(tail) == 2 {
			intPart, fracPart = cleaned[:i], tail
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	numeric := intPart
	if fracPart != "" {
		numeric += "." + fracPart
	}

	d, err := decimal.NewFromString(numeric)
	if err != nil {
		log.Printf("NormalizePrice: failed to parse '%s' from original string '%s': %v", numeric, priceStr, err)
		return nil
	}
	price := d.InexactFloat64()
	return &price
}

// ParsePrice is NormalizePrice with 0 for "no price", kept for callers that
// only need a plain number.
func ParsePrice(priceStr string) float64 {
	if p := NormalizePrice(priceStr); p != nil {
		return *p
	}
	return 0.0
}

var firstIntRegex = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}]*`)

// ParseCount extracts the first integer from strings like "1 234 оценки" or
// "(87 reviews)". It returns nil when there is no number.
func ParseCount(s string) *int {
	m := firstIntRegex.FindString(s)
	if m == "" {
		return nil
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

var ratingRegex = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// ParseRating extracts a rating like "4,8" or "4.8 out of 5" and returns nil
// if it is missing or outside [0,5].
func ParseRating(s string) *float64 {
	m := ratingRegex.FindString(s)
	if m == "" {
		return nil
	}
	r, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil || r < 0 || r > 5 {
		return nil
	}
	return &r
}
