// Package expense extracts a transaction amount, currency, and merchant
// name from the plain-text body of a financial-alert email using an
// ordered set of regexes, and assigns a confidence score for how
// trustworthy the extraction is.
package expense

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	dollarRE = regexp.MustCompile(`\$\s*([0-9]+(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)
	inrRE    = regexp.MustCompile(`(?i)(?:INR|Rs\.?|₹)\s*([0-9]+(?:,[0-9]{2,3})*(?:\.[0-9]{2})?)`)

	// Stripped before extraction so threshold phrasing in notification
	// copy ("more than $500 per month") isn't mistaken for a transaction.
	thresholdContextRE = regexp.MustCompile(`(?i)\b(?:more than|over|greater than|above)\s+\$\s*[0-9]+(?:\.[0-9]{2})?`)

	keywordAmountRE = regexp.MustCompile(`(?i)(?:amount|total|charge(?:d)?|debit(?:ed)?|payment|paid|bill|spend(?:ing)?|due)\s*(?:of|:)?\s*([0-9]+(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)
	keywordRE       = regexp.MustCompile(`(?i)spent|purchase|charged|debited|transaction|card|payment`)

	// Merchant patterns capture the rest of the line broadly; RE2 has no
	// lookahead, so the boundary the original stopped the match at is
	// instead found by a second pass with a stop-marker regex below.
	merchantDetailRE  = regexp.MustCompile(`\bMerchant detail\s+([A-Z][^\n]*)`)
	transactionWithRE = regexp.MustCompile(`(?i)\btransaction with\s+(?:(?:TST|SQ|SQU|PMT)\*\s*)?([A-Za-z0-9][^\n]*)`)
	amexRE            = regexp.MustCompile(`([A-Z][A-Z0-9 &.'\-]{4,}?)\s+(?:\$|INR\s*)[0-9,]+\.[0-9]{2}\*`)
	atMerchantRE      = regexp.MustCompile(`(?i)\b(?:authorized at|purchased at|at)\s+([A-Za-z0-9][^\n]*)`)

	stopMerchantDetailRE  = regexp.MustCompile(`\s+in\b|\s*,|\s+[A-Z][a-z]`)
	stopTransactionWithRE = regexp.MustCompile(`(?i)\s+on\b|\s+-`)
	stopAtMerchantRE      = regexp.MustCompile(`(?i)\s+on\b|[.,]`)

	collapseSpacesRE = regexp.MustCompile(`\s{2,}`)
)

// Match is the result of extracting a transaction from free text.
type Match struct {
	Amount     *float64
	Currency   string
	Merchant   string
	Confidence float64
}

// ExtractAmount returns the transaction amount and its currency, trying
// dollar amounts first, then rupee amounts, then a keyword-anchored
// fallback with no currency symbol.
func ExtractAmount(text string) (*float64, string) {
	if text == "" {
		return nil, ""
	}
	cleaned := thresholdContextRE.ReplaceAllString(text, "")

	for _, m := range dollarRE.FindAllStringSubmatch(cleaned, -1) {
		if amount, ok := parseBounded(m[1], 1_000_000); ok {
			return &amount, "USD"
		}
	}
	for _, m := range inrRE.FindAllStringSubmatch(cleaned, -1) {
		if amount, ok := parseBounded(m[1], 10_000_000); ok {
			return &amount, "INR"
		}
	}
	if m := keywordAmountRE.FindStringSubmatch(cleaned); m != nil {
		if amount, ok := parseBounded(m[1], 1_000_000); ok {
			return &amount, ""
		}
	}
	return nil, ""
}

func parseBounded(raw string, upperBound float64) (float64, bool) {
	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if amount > 0 && amount < upperBound {
		return amount, true
	}
	return 0, false
}

// ExtractMerchant returns the first merchant name matched by the ordered
// pattern list, or "" if none matched or the trimmed result is too short.
func ExtractMerchant(text string) string {
	if text == "" {
		return ""
	}
	if m := merchantDetailRE.FindStringSubmatch(text); m != nil {
		if merchant, ok := trimMerchant(m[1], stopMerchantDetailRE); ok {
			return merchant
		}
	}
	if m := transactionWithRE.FindStringSubmatch(text); m != nil {
		if merchant, ok := trimMerchant(m[1], stopTransactionWithRE); ok {
			return merchant
		}
	}
	if m := amexRE.FindStringSubmatch(text); m != nil {
		if merchant, ok := finalizeMerchant(m[1]); ok {
			return merchant
		}
	}
	if m := atMerchantRE.FindStringSubmatch(text); m != nil {
		if merchant, ok := trimMerchant(m[1], stopAtMerchantRE); ok {
			return merchant
		}
	}
	return ""
}

func trimMerchant(captured string, stop *regexp.Regexp) (string, bool) {
	if loc := stop.FindStringIndex(captured); loc != nil {
		captured = captured[:loc[0]]
	}
	return finalizeMerchant(captured)
}

func finalizeMerchant(raw string) (string, bool) {
	merchant := collapseSpacesRE.ReplaceAllString(strings.TrimSpace(raw), " ")
	if len(merchant) < 2 {
		return "", false
	}
	if len(merchant) > 80 {
		merchant = merchant[:80]
	}
	return merchant, true
}

// Extract runs amount, currency, and merchant extraction over text and
// computes a confidence score: 0.6 for a recognized amount, 0.2 for a
// transaction keyword, and 0.1 for a recognized merchant.
func Extract(text string) Match {
	amount, currency := ExtractAmount(text)
	merchant := ExtractMerchant(text)

	var confidence float64
	if amount != nil {
		confidence += 0.6
	}
	if keywordRE.MatchString(text) {
		confidence += 0.2
	}
	if merchant != "" {
		confidence += 0.1
	}

	return Match{
		Amount:     amount,
		Currency:   currency,
		Merchant:   merchant,
		Confidence: math.Round(confidence*100) / 100,
	}
}
