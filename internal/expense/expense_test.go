package expense

import "testing"

func amountOf(t *testing.T, m Match) float64 {
	t.Helper()
	if m.Amount == nil {
		t.Fatal("expected a non-nil amount")
	}
	return *m.Amount
}

func TestExtract_DollarAmountTakesFirstMatch(t *testing.T) {
	m := Extract("A charge of $42.50 was made to your card ending 1234. Balance: $900.00")
	if amountOf(t, m) != 42.50 {
		t.Fatalf("expected 42.50, got %v", *m.Amount)
	}
	if m.Currency != "USD" {
		t.Fatalf("expected USD, got %q", m.Currency)
	}
}

func TestExtract_ThresholdPhraseIgnored(t *testing.T) {
	// "more than $500" is alert-threshold boilerplate, not the transaction
	// amount; the real charge of $42.50 must win.
	m := Extract("We alert you when your balance is more than $500 per month. Amount charged: $42.50")
	if amountOf(t, m) != 42.50 {
		t.Fatalf("expected threshold phrase to be stripped, got %v", *m.Amount)
	}
}

func TestExtract_INRAmount(t *testing.T) {
	m := Extract("Your payment of INR 2,499.00 was successful")
	if amountOf(t, m) != 2499.00 {
		t.Fatalf("expected 2499.00, got %v", *m.Amount)
	}
	if m.Currency != "INR" {
		t.Fatalf("expected INR, got %q", m.Currency)
	}
}

func TestExtract_KeywordFallbackNoCurrency(t *testing.T) {
	m := Extract("Total: 1200.00 due on your statement")
	if amountOf(t, m) != 1200.00 {
		t.Fatalf("expected 1200.00, got %v", *m.Amount)
	}
	if m.Currency != "" {
		t.Fatalf("expected no currency symbol, got %q", m.Currency)
	}
}

func TestExtract_NoAmountFound(t *testing.T) {
	m := Extract("Thanks for being a customer.")
	if m.Amount != nil {
		t.Fatalf("expected nil amount, got %v", *m.Amount)
	}
	if m.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", m.Confidence)
	}
}

func TestExtractMerchant_TransactionWith(t *testing.T) {
	merchant := ExtractMerchant("A transaction with WHOLE FOODS MARKET on your card ending 1234 was approved.")
	if merchant != "WHOLE FOODS MARKET" {
		t.Fatalf("expected %q, got %q", "WHOLE FOODS MARKET", merchant)
	}
}

func TestExtractMerchant_AuthorizedAt(t *testing.T) {
	merchant := ExtractMerchant("Your card was authorized at Blue Bottle Coffee, thanks for shopping with us.")
	if merchant != "Blue Bottle Coffee" {
		t.Fatalf("expected %q, got %q", "Blue Bottle Coffee", merchant)
	}
}

func TestExtract_ConfidenceAccumulates(t *testing.T) {
	m := Extract("A transaction with TARGET on your card was charged $59.99.")
	if m.Confidence != 0.9 {
		t.Fatalf("expected 0.9 confidence (amount+keyword+merchant), got %v", m.Confidence)
	}
}
