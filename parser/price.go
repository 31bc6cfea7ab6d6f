package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	placeholderRe = regexp.MustCompile(`\b(?:negotiable|call|contact|ask)\b`)
	rangeSepRe    = regexp.MustCompile(`\s*(?:-|–|—|\bto\b)\s*`)
	numberRe      = regexp.MustCompile(`\d+(?:\.\d+)?`)
	groupSepRe    = regexp.MustCompile(`(\d)[\s\x{00a0}\x{202f}]+(\d{3})\b`)
	percentRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	decimalRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
	integerRe     = regexp.MustCompile(`\d+`)

	namePriceRe   = regexp.MustCompile(`(?i)ksh\.?\s*\d+(?:[,\s\x{00a0}\x{202f}]\d{3}\b)*(?:\.\d+)?`)
	namePercentRe = regexp.MustCompile(`-?\d+\s*%`)
	nameRatingRe  = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*out\s*of\s*\d+`)
	nameReviewRe  = regexp.MustCompile(`\(\d+\)`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// ParsePrice extracts a price from listing text such as "KSh 45,000".
// Ranges yield the lower bound, k and m suffixes scale the value, and
// placeholders such as "Negotiable" or "Call for price" yield nil.
func ParsePrice(text string) *float64 {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" || placeholderRe.MatchString(s) {
		return nil
	}

	segment := s
	for _, part := range rangeSepRe.Split(s, -1) {
		if strings.IndexFunc(part, unicode.IsDigit) >= 0 {
			segment = part
			break
		}
	}
	segment = joinDigitGroups(strings.ReplaceAll(segment, ",", ""))

	loc := numberRe.FindStringIndex(segment)
	if loc == nil {
		return nil
	}
	value, err := strconv.ParseFloat(segment[loc[0]:loc[1]], 64)
	if err != nil {
		return nil
	}
	value *= suffixMultiplier(segment[loc[1]:])
	if value <= 0 {
		return nil
	}
	return &value
}

// joinDigitGroups removes space, NBSP and narrow NBSP thousands separators ("45 000" -> "45000").
func joinDigitGroups(s string) string {
	for {
		joined := groupSepRe.ReplaceAllString(s, "${1}${2}")
		if joined == s {
			return s
		}
		s = joined
	}
}

func suffixMultiplier(rest string) float64 {
	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return 1
	}
	var mult float64
	switch rest[0] {
	case 'k':
		mult = 1e3
	case 'm':
		mult = 1e6
	default:
		return 1
	}
	if len(rest) > 1 && isASCIILetter(rest[1]) {
		return 1
	}
	return mult
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ParsePercent extracts "35%" style values.
func ParsePercent(text string) *float64 {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseRating extracts the first decimal, e.g. "4.3 out of 5".
func ParseRating(text string) *float64 {
	m := decimalRe.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseCount extracts the first integer, e.g. "(128)".
func ParseCount(text string) *int {
	m := integerRe.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &v
}

// CleanName removes price, discount, rating and review-count fragments that
// listing cards tend to concatenate into the product title.
func CleanName(name string) string {
	name = namePriceRe.ReplaceAllString(name, "")
	name = namePercentRe.ReplaceAllString(name, "")
	name = nameRatingRe.ReplaceAllString(name, "")
	name = nameReviewRe.ReplaceAllString(name, "")
	return strings.TrimSpace(spacesRe.ReplaceAllString(name, " "))
}
