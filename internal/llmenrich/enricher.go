package llmenrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/model"
)

const (
	chunkSize        = 40
	maxConcurrency   = 8
	chunkTimeout     = 120 * time.Second
	senderMaxChars   = 60
	subjectMaxChars  = 80
	snippetMaxChars  = 400
)

// EmailInput is the subset of an email's fields the enrichment prompt and
// categorizer fallback need.
type EmailInput struct {
	ID         string
	Sender     string
	Subject    string
	Snippet    string
	Categorize categorize.Input
}

// Result is the per-email enrichment payload: the chosen category, any
// extracted action items, and any extracted spending transactions.
type Result struct {
	Category    string
	ActionItems []model.ActionItem
	Spending    model.Spending
}

// Enricher drives chunked, bounded-concurrency calls against a Client.
type Enricher struct {
	client           *Client
	overrides        map[string]string
	subjectOverrides map[string]string
	now              func() time.Time
}

// NewEnricher builds an Enricher. overrides is the sender->category map
// and subjectOverrides the exact-subject->category map consulted, in
// that order, by the heuristic fallback.
func NewEnricher(client *Client, overrides, subjectOverrides map[string]string) *Enricher {
	return &Enricher{client: client, overrides: overrides, subjectOverrides: subjectOverrides, now: time.Now}
}

// ExtractBatch chunks emails into groups of 40 and enriches up to 8
// chunks concurrently, returning a map keyed by email id. progressFn, if
// non-nil, is called after each chunk completes with (done, total).
func (en *Enricher) ExtractBatch(ctx context.Context, emails []EmailInput, progressFn func(done, total int)) (map[string]Result, error) {
	total := len(emails)
	var chunks [][]EmailInput
	for i := 0; i < total; i += chunkSize {
		end := i + chunkSize
		if end > total {
			end = total
		}
		chunks = append(chunks, emails[i:end])
	}

	results := make(map[string]Result, total)
	var mu sync.Mutex
	doneCount := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			chunkResults := en.extractChunk(gctx, chunk)
			mu.Lock()
			for id, r := range chunkResults {
				results[id] = r
			}
			doneCount += len(chunk)
			done := doneCount
			mu.Unlock()
			if progressFn != nil {
				if done > total {
					done = total
				}
				progressFn(done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (en *Enricher) extractChunk(ctx context.Context, batch []EmailInput) map[string]Result {
	chunkCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
	defer cancel()

	prompt := buildPrompt(batch, en.now())
	raw, err := en.client.Call(chunkCtx, prompt, chunkTimeout)
	if err != nil {
		return en.heuristicFallback(batch)
	}

	parsed, err := parseLLMArray(raw)
	if err != nil {
		return en.heuristicFallback(batch)
	}

	results := make(map[string]Result, len(batch))
	for _, e := range batch {
		item, ok := parsed[e.ID]
		category := ""
		if ok {
			category = item.Category
		}
		if !isKnownCategory(category) {
			category = categorize.Categorize(e.Categorize, en.overrides, en.subjectOverrides)
		}
		result := Result{Category: category}
		if ok {
			result.ActionItems = item.ActionItems
			result.Spending = item.Spending
		}
		results[e.ID] = result
	}
	return results
}

func (en *Enricher) heuristicFallback(batch []EmailInput) map[string]Result {
	results := make(map[string]Result, len(batch))
	for _, e := range batch {
		results[e.ID] = Result{
			Category: categorize.Categorize(e.Categorize, en.overrides, en.subjectOverrides),
		}
	}
	return results
}

func isKnownCategory(cat string) bool {
	if cat == "" {
		return false
	}
	for _, c := range categorize.AllCategories {
		if c == cat {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func buildPrompt(batch []EmailInput, today time.Time) string {
	var items strings.Builder
	for i, e := range batch {
		if i > 0 {
			items.WriteString("\n\n")
		}
		fmt.Fprintf(&items, "EMAIL_ID: %s\nSender: %s\nSubject: %s\nSnippet: %s",
			e.ID, truncate(e.Sender, senderMaxChars), truncate(e.Subject, subjectMaxChars), truncate(e.Snippet, snippetMaxChars))
	}

	categories := strings.Join(categorize.AllCategories, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. ", today.Format("2006-01-02"))
	fmt.Fprintf(&b, "For each email do three things:\n")
	fmt.Fprintf(&b, "1. Categorize into exactly one of: %s\n", categories)
	b.WriteString("2. Extract action items required FROM THE RECIPIENT (deadlines if mentioned, urgency: high/medium/low)\n")
	b.WriteString("3. Extract spending/transaction data if the email is a receipt, payment confirmation, bank alert, or invoice.\n")
	b.WriteString("   For spending, capture: amount, currency, merchant, merchant_normalized, merchant_category, ")
	b.WriteString("transaction_type (purchase|refund|transfer|subscription|bill|fee|atm|other), ")
	b.WriteString("payment_method (credit_card|debit_card|bank_transfer|upi|wallet|bnpl|cash|other), ")
	b.WriteString("card_last4, card_network (Visa|Mastercard|Amex|Discover|RuPay|other), account_name, ")
	b.WriteString("date (YYYY-MM-DD, use transaction date not email date), description, ")
	b.WriteString("is_recurring (bool), recurrence_period (monthly|annual|weekly|quarterly|null), ")
	b.WriteString("is_international (bool), foreign_amount, foreign_currency, exchange_rate, ")
	b.WriteString("reference_id (order/txn ID), status (completed|pending|failed|reversed|disputed).\n")
	b.WriteString("Return ONLY a JSON array, no markdown:\n")
	b.WriteString(`[{"id":"<id>","category":"<cat>","action_items":[{"action":"...","deadline":"YYYY-MM-DD or null","urgency":"high|medium|low"}],"spending":{"is_transaction":false,"transactions":[]}}]` + "\n")
	b.WriteString(`Include every email id. Use action_items:[] and spending:{"is_transaction":false,"transactions":[]} if none apply.` + "\n\n")
	b.WriteString(items.String())
	return b.String()
}

type llmItem struct {
	ID          string             `json:"id"`
	Category    string             `json:"category"`
	ActionItems []model.ActionItem `json:"action_items"`
	Spending    model.Spending     `json:"spending"`
}

func parseLLMArray(raw string) (map[string]llmItem, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var items []llmItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, err
	}
	byID := make(map[string]llmItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return byID, nil
}
