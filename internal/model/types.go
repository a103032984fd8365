// Package model defines the record types persisted and passed between
// components of the mailbox sync and enrichment pipeline.
package model

// Recipients holds the raw To/Cc/Bcc header values for a message.
type Recipients struct {
	To  string `json:"to"`
	Cc  string `json:"cc"`
	Bcc string `json:"bcc"`
}

// Attachment describes a single MIME part carrying a filename.
type Attachment struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// Urgency levels for an ActionItem.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// ActionItem is a follow-up required from the recipient, extracted by the LLM stage.
type ActionItem struct {
	Action   string `json:"action"`
	Deadline string `json:"deadline,omitempty"` // YYYY-MM-DD, empty if none
	Urgency  string `json:"urgency"`
}

// Transaction is a single spending/transfer event extracted from an email.
type Transaction struct {
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	Merchant           string  `json:"merchant"`
	MerchantNormalized string  `json:"merchant_normalized,omitempty"`
	MerchantCategory   string  `json:"merchant_category,omitempty"`
	TransactionType    string  `json:"transaction_type"` // purchase|refund|transfer|subscription|bill|fee|atm|other
	PaymentMethod      string  `json:"payment_method,omitempty"`
	CardLast4          string  `json:"card_last4,omitempty"`
	CardNetwork        string  `json:"card_network,omitempty"`
	AccountName        string  `json:"account_name,omitempty"`
	Date               string  `json:"date,omitempty"` // YYYY-MM-DD
	Description        string  `json:"description,omitempty"`
	IsRecurring        bool    `json:"is_recurring"`
	RecurrencePeriod   string  `json:"recurrence_period,omitempty"`
	IsInternational    bool    `json:"is_international"`
	ForeignAmount      float64 `json:"foreign_amount,omitempty"`
	ForeignCurrency    string  `json:"foreign_currency,omitempty"`
	ExchangeRate       float64 `json:"exchange_rate,omitempty"`
	ReferenceID        string  `json:"reference_id,omitempty"`
	Status             string  `json:"status,omitempty"` // completed|pending|failed|reversed|disputed
}

// Spending is the enrichment payload stored as spending_json on an Email.
type Spending struct {
	IsTransaction bool          `json:"is_transaction"`
	Transactions  []Transaction `json:"transactions"`
}

// Email is the primary ingested record, keyed by the remote Gmail message id.
type Email struct {
	GmailID         string     `json:"gmail_id"`
	ThreadID        string     `json:"thread_id"`
	Subject         string     `json:"subject"`
	Sender          string     `json:"sender"`
	Recipients      Recipients `json:"recipients"`
	DateISO         string     `json:"date_iso"`
	DateTimestamp   int64      `json:"date_timestamp"`
	Snippet         string     `json:"snippet"`
	IsRead          bool       `json:"is_read"`
	IsStarred       bool       `json:"is_starred"`
	IsDraft         bool       `json:"is_draft"`
	HasAttachments  bool       `json:"has_attachments"`
	Labels          string     `json:"labels"` // pipe-bracketed: |A|B|
	HistoryID       string     `json:"history_id"`
	SizeEstimate    int64      `json:"size_estimate"`
	ListUnsubscribe string     `json:"list_unsubscribe"`
	Category        string     `json:"category"`
	BodyText        string     `json:"-"` // stored as the document, not metadata

	ActionsExtracted bool   `json:"actions_extracted"`
	ActionItemsJSON  string `json:"action_items_json,omitempty"`
	HasActionItems   bool   `json:"has_action_items"`
	SpendingJSON     string `json:"spending_json,omitempty"`
	HasTransactions  bool   `json:"has_transactions"`
	LLMCategorized   bool   `json:"llm_categorized"`

	Extra map[string]any `json:"-"` // open extension map for optional keys
}

// ParsedMessage is the intermediate representation produced by the Transport's
// MIME parse, before categorization/embedding/enrichment are applied.
type ParsedMessage struct {
	GmailID      string
	ThreadID     string
	Subject      string
	Sender       string
	Recipients   Recipients
	Date         string // ISO-8601, empty if unparseable
	InternalDate string
	Snippet      string
	BodyText     string
	BodyHTML     string
	RawHeaders   map[string]string
	SizeEstimate int64
	IsRead       bool
	IsStarred    bool
	IsDraft      bool
	HistoryID    string
	LabelIDs     []string
	Attachments  []Attachment
}

// Expense sources.
const (
	ExpenseSourceRule   = "rule"
	ExpenseSourceManual = "manual"
	ExpenseSourceLLM    = "llm"
)

// Expense is a derived spending record, keyed by source email id or manual_<id>.
type Expense struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Merchant      string  `json:"merchant"`
	Category      string  `json:"category"`
	SourceSender  string  `json:"source_sender"`
	Labels        string  `json:"labels"`
	DateISO       string  `json:"date_iso"`
	DateTimestamp int64   `json:"date_timestamp"`
	Confidence    float64 `json:"confidence"`
	RuleName      string  `json:"rule_name"`
	Source        string  `json:"source"`
	SourceGmailID string  `json:"source_gmail_id"`
	ThreadID      string  `json:"thread_id"`
	Subject       string  `json:"subject"`
	Document      string  `json:"-"`
}

// Label types.
const (
	LabelTypeSystem = "system"
	LabelTypeUser   = "user"
)

// Label mirrors a Gmail label.
type Label struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
	Color   string `json:"color,omitempty"`
}

// SyncState is the single cursor row, keyed "state".
type SyncState struct {
	LastHistoryID     string `json:"last_history_id"`
	LastFullSync      string `json:"last_full_sync"`
	TotalEmailsSynced int    `json:"total_emails_synced"`
}

// Where is a translatable filter tree understood by the store's Get/Query.
// Supported shapes: {"field": value} (equality), {"field": {"$contains": s}},
// {"field": {"$gte"/"$lte"/"$eq": v}}, {"$and": []Where}.
type Where map[string]any

// SearchFilters narrows a fulltext/filter search.
type SearchFilters struct {
	Sender          string
	Recipients      string
	Label           string
	Category        string
	DateFrom        string
	DateTo          string
	HasAttachments  *bool
	IsRead          *bool
	IsStarred       *bool
	SubjectContains string
}
