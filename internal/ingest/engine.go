package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/embedding"
	"github.com/nitinnat/gmail-parser/internal/expense"
	"github.com/nitinnat/gmail-parser/internal/gmailapi"
	"github.com/nitinnat/gmail-parser/internal/llmenrich"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

// DefaultBatchSize matches the sync engine's default batch size.
const DefaultBatchSize = 100

// ErrNoPriorSync is returned by IncrementalSync when no full sync has ever
// stored a history cursor to resume from.
var ErrNoPriorSync = errors.New("no previous sync state found, run a full sync first")

// ProgressFunc reports (synced, total) as a sync proceeds.
type ProgressFunc func(synced, total int)

// Engine drives full and incremental synchronization, wiring the Gmail
// transport, the store, the embedding model, the rule categorizer, and
// LLM enrichment together.
type Engine struct {
	transport *gmailapi.Transport
	db        *store.Store
	embedder  *embedding.Model
	enricher  *llmenrich.Enricher
	batchSize int

	// Overrides returns the current sender->category override map; wired
	// to the JSON config store so edits apply without restarting a sync.
	Overrides func() map[string]string

	// SubjectOverrides returns the current exact-subject->category
	// override map, consulted after Overrides and before the rule table.
	SubjectOverrides func() map[string]string
}

// New builds an Engine. batchSize <= 0 uses DefaultBatchSize.
func New(transport *gmailapi.Transport, db *store.Store, embedder *embedding.Model, enricher *llmenrich.Enricher, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		transport:        transport,
		db:               db,
		embedder:         embedder,
		enricher:         enricher,
		batchSize:        batchSize,
		Overrides:        func() map[string]string { return nil },
		SubjectOverrides: func() map[string]string { return nil },
	}
}

// SyncLabels refreshes the local label catalog from Gmail.
func (e *Engine) SyncLabels(ctx context.Context) error {
	stubs, err := e.transport.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	labels := make([]model.Label, 0, len(stubs))
	for _, stub := range stubs {
		detail, err := e.transport.GetLabel(ctx, stub.Id)
		if err != nil {
			log.Warn().Str("label_id", stub.Id).Err(err).Msg("failed to fetch label detail")
			continue
		}
		labelType := detail.Type
		color := ""
		if detail.Color != nil {
			color = detail.Color.BackgroundColor
		}
		labels = append(labels, model.Label{
			ID:      detail.Id,
			Name:    detail.Name,
			Type:    labelType,
			Visible: detail.LabelListVisibility != "labelHide",
			Color:   color,
		})
	}
	if err := e.db.UpsertLabels(ctx, labels); err != nil {
		return fmt.Errorf("upsert labels: %w", err)
	}
	log.Info().Int("count", len(labels)).Msg("synced labels")
	return nil
}

func (e *Engine) labelMap(ctx context.Context) (map[string]string, error) {
	labels, err := e.db.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.ID] = l.Name
	}
	return m, nil
}

// FullSyncParams configures a full synchronization pass.
type FullSyncParams struct {
	Query     string
	MaxEmails int
	LabelIDs  []string
	TimeQuery TimeQuery
	Progress  ProgressFunc
}

// FullSync lists messages in scope, dedupes against the store, fetches
// and enriches everything new, reconciles local deletions, and updates
// the sync cursor. It returns the number of emails newly inserted by this run.
func (e *Engine) FullSync(ctx context.Context, p FullSyncParams) (int, error) {
	timeQuery := p.TimeQuery
	timeQuery.Query = p.Query
	query := effectiveQuery(BuildTimeQuery(timeQuery))

	log.Info().Int("max_emails", p.MaxEmails).Str("query", query).Msg("starting full sync")

	if err := e.SyncLabels(ctx); err != nil {
		log.Warn().Err(err).Msg("label sync failed, continuing with stale catalog")
	}

	stubIDs, err := e.transport.ListMessages(ctx, query, p.LabelIDs, p.MaxEmails)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	log.Info().Int("count", len(stubIDs)).Msg("found messages to sync")

	labelMap, err := e.labelMap(ctx)
	if err != nil {
		return 0, fmt.Errorf("load label map: %w", err)
	}

	totalSynced := 0
	for i := 0; i < len(stubIDs); i += e.batchSize {
		end := i + e.batchSize
		if end > len(stubIDs) {
			end = len(stubIDs)
		}
		chunkIDs := stubIDs[i:end]

		existing, err := e.db.GetExistingIDs(ctx, chunkIDs)
		if err != nil {
			return totalSynced, fmt.Errorf("dedup chunk [%d:%d]: %w", i, end, err)
		}
		var newIDs []string
		for _, id := range chunkIDs {
			if _, ok := existing[id]; !ok {
				newIDs = append(newIDs, id)
			}
		}

		if len(newIDs) > 0 {
			inserted, err := e.fetchAndUpsert(ctx, newIDs, labelMap)
			if err != nil {
				return totalSynced, fmt.Errorf("fetch/upsert chunk [%d:%d]: %w", i, end, err)
			}
			totalSynced += inserted
		}

		if p.Progress != nil {
			p.Progress(i+len(chunkIDs), len(stubIDs))
		}
		log.Info().Int("from", i).Int("to", end).Msg("synced batch")
	}

	if err := e.reconcileDeletions(ctx, stubIDs, p.TimeQuery); err != nil {
		log.Warn().Err(err).Msg("deletion reconciliation failed")
	}

	if err := e.advanceSyncState(ctx, totalSynced); err != nil {
		log.Warn().Err(err).Msg("failed to persist sync state")
	}

	log.Info().Int("total_synced", totalSynced).Msg("full sync complete")
	return totalSynced, nil
}

func (e *Engine) reconcileDeletions(ctx context.Context, remoteStubs []string, tq TimeQuery) error {
	after := tq.After
	if tq.DaysAgo != nil {
		t := time.Now().UTC().AddDate(0, 0, -*tq.DaysAgo)
		after = &t
	}
	dateRange := map[string]any{}
	if after != nil {
		dateRange["$gte"] = after.Unix()
	}
	if tq.Before != nil {
		dateRange["$lte"] = tq.Before.Unix()
	}
	var where model.Where
	if len(dateRange) > 0 {
		where = model.Where{"date_timestamp": dateRange}
	}
	localIDs, err := e.db.GetAllIDs(ctx, where)
	if err != nil {
		return fmt.Errorf("list local ids: %w", err)
	}
	remoteSet := make(map[string]struct{}, len(remoteStubs))
	for _, id := range remoteStubs {
		remoteSet[id] = struct{}{}
	}
	var deleted []string
	for _, id := range localIDs {
		if _, ok := remoteSet[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	if len(deleted) == 0 {
		return nil
	}
	log.Info().Int("count", len(deleted)).Msg("deletion reconciliation removing stale local emails")
	return e.db.DeleteEmails(ctx, deleted)
}

func (e *Engine) advanceSyncState(ctx context.Context, count int) error {
	state, err := e.db.GetSyncState(ctx)
	if err != nil {
		return err
	}
	historyID, err := e.transport.ProfileHistoryID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch current history id, retaining previous cursor")
		historyID = state.LastHistoryID
	}
	state.LastHistoryID = historyID
	state.LastFullSync = time.Now().UTC().Format(time.RFC3339)
	state.TotalEmailsSynced += count
	return e.db.SetSyncState(ctx, state)
}

// fetchAndUpsert fetches full bodies for ids, parses, categorizes,
// embeds, and upserts them, then triggers LLM enrichment synchronously.
// It returns how many messages were successfully inserted.
func (e *Engine) fetchAndUpsert(ctx context.Context, ids []string, labelMap map[string]string) (int, error) {
	messages, failed, err := e.transport.BatchGetMessages(ctx, ids, "full")
	if err != nil {
		return 0, err
	}
	if len(failed) > 0 {
		log.Warn().Int("count", len(failed)).Msg("messages permanently failed to fetch")
	}

	overrides := e.Overrides()
	subjectOverrides := e.SubjectOverrides()
	emails := make([]model.Email, 0, len(messages))
	vectors := make(map[string][]float32, len(messages))
	enrichInputs := make([]llmenrich.EmailInput, 0, len(messages))

	for _, raw := range messages {
		parsed := gmailapi.ParseMessage(raw)
		email := buildEmail(parsed, labelMap, overrides, subjectOverrides)
		emails = append(emails, email)

		text := embedding.PrepareEmailText(email.Subject, email.BodyText, email.Sender)
		vectors[email.GmailID] = e.embedder.Encode(text)

		enrichInputs = append(enrichInputs, llmenrich.EmailInput{
			ID:      email.GmailID,
			Sender:  email.Sender,
			Subject: email.Subject,
			Snippet: email.Snippet,
			Categorize: categorize.Input{
				Sender:          email.Sender,
				Subject:         email.Subject,
				Labels:          email.Labels,
				ListUnsubscribe: email.ListUnsubscribe,
			},
		})
	}

	if err := e.db.UpsertEmails(ctx, emails, vectors); err != nil {
		return 0, fmt.Errorf("upsert emails: %w", err)
	}

	if e.enricher != nil && len(enrichInputs) > 0 {
		e.runEnrichment(ctx, enrichInputs)
	}
	if err := e.extractExpenses(ctx, emails); err != nil {
		log.Warn().Err(err).Msg("rule-based expense extraction failed")
	}

	return len(emails), nil
}

func (e *Engine) runEnrichment(ctx context.Context, inputs []llmenrich.EmailInput) {
	results, err := e.enricher.ExtractBatch(ctx, inputs, nil)
	if err != nil {
		log.Warn().Err(err).Msg("llm enrichment failed for batch")
		return
	}
	patch := make(map[string]map[string]any, len(results))
	for id, r := range results {
		actionsJSON, _ := marshalActionItems(r.ActionItems)
		spendingJSON, _ := marshalSpending(r.Spending)
		patch[id] = map[string]any{
			"category":          r.Category,
			"actions_extracted": true,
			"action_items_json": actionsJSON,
			"has_action_items":  len(r.ActionItems) > 0,
			"spending_json":     spendingJSON,
			"has_transactions":  r.Spending.IsTransaction,
			"llm_categorized":   true,
		}
	}
	if err := e.db.UpdateMetadatasBatch(ctx, patch); err != nil {
		log.Warn().Err(err).Msg("failed to persist llm enrichment results")
	}
}

func (e *Engine) extractExpenses(ctx context.Context, emails []model.Email) error {
	var expenses []model.Expense
	for _, em := range emails {
		text := em.Subject + " " + em.Snippet + " " + em.BodyText
		match := expense.Extract(text)
		if match.Amount == nil || match.Confidence < 0.6 {
			continue
		}
		expenses = append(expenses, model.Expense{
			ID:            em.GmailID,
			Amount:        *match.Amount,
			Currency:      match.Currency,
			Merchant:      match.Merchant,
			Category:      em.Category,
			SourceSender:  em.Sender,
			Labels:        em.Labels,
			DateISO:       em.DateISO,
			DateTimestamp: em.DateTimestamp,
			Confidence:    match.Confidence,
			RuleName:      "regex_extractor",
			Source:        model.ExpenseSourceRule,
			SourceGmailID: em.GmailID,
			ThreadID:      em.ThreadID,
			Subject:       em.Subject,
			Document:      text,
		})
	}
	if len(expenses) == 0 {
		return nil
	}
	return e.db.UpsertExpenses(ctx, expenses)
}

func buildEmail(p model.ParsedMessage, labelMap map[string]string, overrides, subjectOverrides map[string]string) model.Email {
	names := make([]string, 0, len(p.LabelIDs))
	for _, id := range p.LabelIDs {
		if name, ok := labelMap[id]; ok {
			names = append(names, name)
		} else {
			names = append(names, id)
		}
	}
	labels := store.WrapLabels(names)

	listUnsubscribe := p.RawHeaders["List-Unsubscribe"]
	category := categorize.Categorize(categorize.Input{
		Sender:          p.Sender,
		Subject:         p.Subject,
		Labels:          labels,
		ListUnsubscribe: listUnsubscribe,
	}, overrides, subjectOverrides)

	var ts int64
	if p.Date != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Date); err == nil {
			ts = parsed.Unix()
		}
	}

	return model.Email{
		GmailID:         p.GmailID,
		ThreadID:        p.ThreadID,
		Subject:         p.Subject,
		Sender:          p.Sender,
		Recipients:      p.Recipients,
		DateISO:         p.Date,
		DateTimestamp:   ts,
		Snippet:         p.Snippet,
		IsRead:          p.IsRead,
		IsStarred:       p.IsStarred,
		IsDraft:         p.IsDraft,
		HasAttachments:  len(p.Attachments) > 0,
		Labels:          labels,
		HistoryID:       p.HistoryID,
		SizeEstimate:    p.SizeEstimate,
		ListUnsubscribe: listUnsubscribe,
		Category:        category,
		BodyText:        p.BodyText,
	}
}

// IncrementalResult summarizes one incremental sync pass.
type IncrementalResult struct {
	Added     int
	Deleted   int
	Refreshed int
	Fallback  bool
}

// IncrementalSync advances from the stored history cursor. If the cursor
// has expired (Gmail 404s the history call), it falls back to a 7-day
// full sync and reports Fallback=true.
func (e *Engine) IncrementalSync(ctx context.Context) (IncrementalResult, error) {
	state, err := e.db.GetSyncState(ctx)
	if err != nil {
		return IncrementalResult{}, err
	}
	if state.LastHistoryID == "" {
		return IncrementalResult{}, ErrNoPriorSync
	}

	sinceID, err := strconv.ParseUint(state.LastHistoryID, 10, 64)
	if err != nil {
		return IncrementalResult{}, fmt.Errorf("parse stored history id %q: %w", state.LastHistoryID, err)
	}

	records, newestHistoryID, err := e.transport.ListHistory(ctx, sinceID, nil)
	if gmailapi.IsNotFound(err) {
		log.Warn().Msg("history cursor expired, falling back to 7-day full sync")
		days := 7
		synced, fullErr := e.FullSync(ctx, FullSyncParams{TimeQuery: TimeQuery{DaysAgo: &days}})
		if fullErr != nil {
			return IncrementalResult{}, fullErr
		}
		return IncrementalResult{Added: synced, Fallback: true}, nil
	}
	if err != nil {
		return IncrementalResult{}, fmt.Errorf("list history: %w", err)
	}

	added := map[string]struct{}{}
	deleted := map[string]struct{}{}
	labelChanged := map[string]struct{}{}
	for _, rec := range records {
		for _, id := range rec.MessagesAdded {
			added[id] = struct{}{}
		}
		for _, id := range rec.MessagesDeleted {
			deleted[id] = struct{}{}
		}
		for id := range rec.LabelsAdded {
			labelChanged[id] = struct{}{}
		}
		for id := range rec.LabelsRemoved {
			labelChanged[id] = struct{}{}
		}
	}

	result := IncrementalResult{}

	var deleteIDs []string
	for id := range deleted {
		if _, isAdded := added[id]; !isAdded {
			deleteIDs = append(deleteIDs, id)
		}
	}
	if len(deleteIDs) > 0 {
		if err := e.db.DeleteEmails(ctx, deleteIDs); err != nil {
			return result, fmt.Errorf("delete pass: %w", err)
		}
		result.Deleted = len(deleteIDs)
	}

	var refreshIDs []string
	for id := range labelChanged {
		_, isAdded := added[id]
		_, isDeleted := deleted[id]
		if !isAdded && !isDeleted {
			refreshIDs = append(refreshIDs, id)
		}
	}
	if len(refreshIDs) > 0 {
		refreshed, err := e.refreshMetadata(ctx, refreshIDs)
		if err != nil {
			return result, fmt.Errorf("metadata refresh pass: %w", err)
		}
		result.Refreshed = refreshed
	}

	if len(added) > 0 {
		labelMap, err := e.labelMap(ctx)
		if err != nil {
			return result, fmt.Errorf("load label map: %w", err)
		}
		ids := make([]string, 0, len(added))
		for id := range added {
			ids = append(ids, id)
		}
		inserted, err := e.fetchAndUpsert(ctx, ids, labelMap)
		if err != nil {
			return result, fmt.Errorf("add pass: %w", err)
		}
		result.Added = inserted
	}

	state.LastHistoryID = newestHistoryID
	if state.LastHistoryID == "" {
		state.LastHistoryID = strconv.FormatUint(sinceID, 10)
	}
	state.LastFullSync = time.Now().UTC().Format(time.RFC3339)
	state.TotalEmailsSynced += result.Added
	if err := e.db.SetSyncState(ctx, state); err != nil {
		log.Warn().Err(err).Msg("failed to persist sync state after incremental sync")
	}

	log.Info().Int("added", result.Added).Int("deleted", result.Deleted).Int("refreshed", result.Refreshed).Msg("incremental sync complete")
	return result, nil
}

// refreshMetadata re-fetches metadata-only for ids whose labels changed,
// deleting anything now in Trash/Spam and shallow-merging the rest.
func (e *Engine) refreshMetadata(ctx context.Context, ids []string) (int, error) {
	messages, _, err := e.transport.BatchGetMessages(ctx, ids, "metadata")
	if err != nil {
		return 0, err
	}
	labelMap, err := e.labelMap(ctx)
	if err != nil {
		return 0, err
	}

	var toDelete []string
	patch := make(map[string]map[string]any)
	for _, raw := range messages {
		parsed := gmailapi.ParseMessageMetadata(raw)
		if hasAny(parsed.LabelIDs, "TRASH", "SPAM") {
			toDelete = append(toDelete, parsed.GmailID)
			continue
		}
		names := make([]string, 0, len(parsed.LabelIDs))
		for _, id := range parsed.LabelIDs {
			if name, ok := labelMap[id]; ok {
				names = append(names, name)
			} else {
				names = append(names, id)
			}
		}
		patch[parsed.GmailID] = map[string]any{
			"labels":     store.WrapLabels(names),
			"is_read":    parsed.IsRead,
			"is_starred": parsed.IsStarred,
			"history_id": parsed.HistoryID,
		}
	}

	if len(toDelete) > 0 {
		if err := e.db.DeleteEmails(ctx, toDelete); err != nil {
			return 0, err
		}
	}
	if len(patch) > 0 {
		if err := e.db.UpdateMetadatasBatch(ctx, patch); err != nil {
			return 0, err
		}
	}
	return len(patch) + len(toDelete), nil
}

func hasAny(haystack []string, needles ...string) bool {
	set := make(map[string]struct{}, len(needles))
	for _, n := range needles {
		set[n] = struct{}{}
	}
	for _, h := range haystack {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}

// Reindex re-encodes every stored document with the current embedding
// model and writes the refreshed vectors back. Used after an embedding
// model change.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	emails, err := e.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("load emails: %w", err)
	}
	vectors := make(map[string][]float32, len(emails))
	for _, em := range emails {
		text := embedding.PrepareEmailText(em.Subject, em.BodyText, em.Sender)
		vectors[em.GmailID] = e.embedder.Encode(text)
	}
	if err := e.db.UpsertEmails(ctx, emails, vectors); err != nil {
		return 0, fmt.Errorf("reindex upsert: %w", err)
	}
	log.Info().Int("count", len(emails)).Msg("reindexed embeddings")
	return len(emails), nil
}

// Recategorize re-evaluates every stored email's category against the
// current rule table and sender/subject overrides, patching only the ones
// whose category changed. Lets POST /sync/categorize pick up new overrides
// without a full resync.
func (e *Engine) Recategorize(ctx context.Context, overrides, subjectOverrides map[string]string) (int, error) {
	emails, err := e.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("recategorize: %w", err)
	}
	patch := make(map[string]map[string]any)
	for _, em := range emails {
		cat := categorize.Categorize(categorize.Input{
			Sender:          em.Sender,
			Subject:         em.Subject,
			Labels:          em.Labels,
			ListUnsubscribe: em.ListUnsubscribe,
		}, overrides, subjectOverrides)
		if cat != em.Category {
			patch[em.GmailID] = map[string]any{"category": cat}
		}
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if err := e.db.UpdateMetadatasBatch(ctx, patch); err != nil {
		return 0, fmt.Errorf("recategorize: %w", err)
	}
	return len(patch), nil
}

// LLMProcess runs LLM enrichment over stored emails that have not yet been
// LLM-categorized, or over every email when force is true. Returns how
// many emails were submitted for enrichment.
func (e *Engine) LLMProcess(ctx context.Context, force bool) (int, error) {
	if e.enricher == nil {
		return 0, nil
	}
	emails, err := e.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("llm process: %w", err)
	}
	inputs := make([]llmenrich.EmailInput, 0, len(emails))
	for _, em := range emails {
		if !force && em.LLMCategorized {
			continue
		}
		inputs = append(inputs, llmenrich.EmailInput{
			ID:      em.GmailID,
			Sender:  em.Sender,
			Subject: em.Subject,
			Snippet: em.Snippet,
			Categorize: categorize.Input{
				Sender:          em.Sender,
				Subject:         em.Subject,
				Labels:          em.Labels,
				ListUnsubscribe: em.ListUnsubscribe,
			},
		})
	}
	if len(inputs) == 0 {
		return 0, nil
	}
	e.runEnrichment(ctx, inputs)
	return len(inputs), nil
}

func marshalActionItems(items []model.ActionItem) (string, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalSpending(s model.Spending) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
