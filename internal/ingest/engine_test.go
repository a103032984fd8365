package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nitinnat/gmail-parser/internal/embedding"
	"github.com/nitinnat/gmail-parser/internal/gmailapi"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

// fakeGmail is a minimal Gmail REST stand-in driving FullSync/IncrementalSync
// end to end. It serves the handful of endpoints the Engine actually calls.
type fakeGmail struct {
	messages     map[string]*gmailv1.Message
	historyErr   int // HTTP status to return for history.list, 0 means succeed
	historyID    uint64
}

func (f *fakeGmail) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/messages/") && r.Method == http.MethodGet:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			msg, ok := f.messages[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 404}})
				return
			}
			json.NewEncoder(w).Encode(msg)

		case strings.HasSuffix(r.URL.Path, "/messages"):
			ids := make([]*gmailv1.Message, 0, len(f.messages))
			for id := range f.messages {
				ids = append(ids, &gmailv1.Message{Id: id})
			}
			json.NewEncoder(w).Encode(&gmailv1.ListMessagesResponse{Messages: ids})

		case strings.HasSuffix(r.URL.Path, "/labels"):
			json.NewEncoder(w).Encode(&gmailv1.ListLabelsResponse{})

		case strings.HasSuffix(r.URL.Path, "/profile"):
			json.NewEncoder(w).Encode(&gmailv1.Profile{HistoryId: f.historyID})

		case strings.Contains(r.URL.Path, "/history"):
			if f.historyErr != 0 {
				w.WriteHeader(f.historyErr)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": f.historyErr}})
				return
			}
			json.NewEncoder(w).Encode(&gmailv1.ListHistoryResponse{HistoryId: f.historyID})

		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}
}

func newTestEngine(t *testing.T, fake *fakeGmail) (*Engine, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := gmailv1.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	transport := gmailapi.NewTransportFromService(svc)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := New(transport, db, embedding.NewModel(32), nil, 10)
	return engine, db
}

func rawMessage(id, from, subject string) *gmailv1.Message {
	return &gmailv1.Message{
		Id:       id,
		ThreadId: "thread-" + id,
		Snippet:  "snippet for " + id,
		Payload: &gmailv1.MessagePart{
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
			},
			MimeType: "text/plain",
			Body:     &gmailv1.MessagePartBody{Data: ""},
		},
	}
}

func TestFullSync_InsertsNewMessagesAndSkipsKnown(t *testing.T) {
	fake := &fakeGmail{
		messages: map[string]*gmailv1.Message{
			"m1": rawMessage("m1", "alerts@uscis.gov", "Case status update"),
			"m2": rawMessage("m2", "orders@amazon.com", "Your package shipped"),
		},
		historyID: 100,
	}
	engine, db := newTestEngine(t, fake)
	ctx := context.Background()

	synced, err := engine.FullSync(ctx, FullSyncParams{MaxEmails: 10})
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if synced != 2 {
		t.Fatalf("expected 2 synced, got %d", synced)
	}

	count, err := db.CountEmails(ctx, nil)
	if err != nil {
		t.Fatalf("CountEmails: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 stored emails, got %d", count)
	}

	state, err := db.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.LastHistoryID != "100" {
		t.Fatalf("expected history id 100, got %q", state.LastHistoryID)
	}
	if state.TotalEmailsSynced != 2 {
		t.Fatalf("expected total 2, got %d", state.TotalEmailsSynced)
	}

	// Running again with the same remote set should insert nothing new.
	synced, err = engine.FullSync(ctx, FullSyncParams{MaxEmails: 10})
	if err != nil {
		t.Fatalf("FullSync second pass: %v", err)
	}
	if synced != 0 {
		t.Fatalf("expected 0 newly synced on second pass, got %d", synced)
	}
}

func TestFullSync_ReconcilesLocalDeletions(t *testing.T) {
	fake := &fakeGmail{
		messages: map[string]*gmailv1.Message{
			"m1": rawMessage("m1", "a@b.com", "hello"),
		},
		historyID: 50,
	}
	engine, db := newTestEngine(t, fake)
	ctx := context.Background()

	if err := db.UpsertEmails(ctx, []model.Email{{GmailID: "stale", Subject: "gone"}}, nil); err != nil {
		t.Fatalf("seed stale email: %v", err)
	}

	if _, err := engine.FullSync(ctx, FullSyncParams{MaxEmails: 10}); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	if _, ok, _ := db.GetEmail(ctx, "stale"); ok {
		t.Fatal("expected stale local email to be reconciled away")
	}
	if _, ok, _ := db.GetEmail(ctx, "m1"); !ok {
		t.Fatal("expected m1 to be present")
	}
}

func TestIncrementalSync_FallsBackOnExpiredHistoryCursor(t *testing.T) {
	fake := &fakeGmail{
		messages: map[string]*gmailv1.Message{
			"m1": rawMessage("m1", "a@b.com", "hello"),
		},
		historyErr: http.StatusNotFound,
		historyID:  200,
	}
	engine, db := newTestEngine(t, fake)
	ctx := context.Background()

	if err := db.SetSyncState(ctx, model.SyncState{LastHistoryID: "1"}); err != nil {
		t.Fatalf("seed sync state: %v", err)
	}

	result, err := engine.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if !result.Fallback {
		t.Fatal("expected Fallback=true on expired history cursor")
	}
	if result.Added != 1 {
		t.Fatalf("expected 1 added via fallback full sync, got %d", result.Added)
	}
}

func TestIncrementalSync_RequiresPriorFullSync(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeGmail{})
	if _, err := engine.IncrementalSync(context.Background()); err == nil {
		t.Fatal("expected error when no prior sync state exists")
	}
}

func TestBuildEmail_WrapsLabelsAndCategorizes(t *testing.T) {
	parsed := model.ParsedMessage{
		GmailID:    "m1",
		Sender:     "alerts@uscis.gov",
		Subject:    "Case status update",
		LabelIDs:   []string{"INBOX", "Label_1"},
		RawHeaders: map[string]string{},
	}
	labelMap := map[string]string{"INBOX": "INBOX", "Label_1": "Immigration"}

	email := buildEmail(parsed, labelMap, nil, nil)
	if email.Labels != "|INBOX|Immigration|" {
		t.Fatalf("unexpected labels: %q", email.Labels)
	}
	if email.Category == "" {
		t.Fatal("expected a non-empty category")
	}
}

func TestRecategorize_AppliesSenderAndSubjectOverrides(t *testing.T) {
	engine, db := newTestEngine(t, &fakeGmail{})
	ctx := context.Background()

	err := db.UpsertEmails(ctx, []model.Email{
		{GmailID: "1", Sender: "alerts@uscis.gov", Subject: "Case status update", Category: "Other"},
		{GmailID: "2", Sender: "billing@acme.com", Subject: "Your invoice is ready", Category: "Other"},
		{GmailID: "3", Sender: "friend@gmail.com", Subject: "Dinner tonight?", Category: "Other"},
	}, nil)
	if err != nil {
		t.Fatalf("seed emails: %v", err)
	}

	overrides := map[string]string{"billing@acme.com": "Custom Bucket"}
	subjectOverrides := map[string]string{"Case status update": "Custom Subject Bucket"}

	n, err := engine.Recategorize(ctx, overrides, subjectOverrides)
	if err != nil {
		t.Fatalf("Recategorize: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 emails recategorized (email 3 stays Other, unchanged), got %d", n)
	}

	emails, err := db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("GetEmails: %v", err)
	}
	byID := make(map[string]string, len(emails))
	for _, e := range emails {
		byID[e.GmailID] = e.Category
	}
	if byID["1"] != "Custom Subject Bucket" {
		t.Fatalf("expected subject override to win for email 1, got %q", byID["1"])
	}
	if byID["2"] != "Custom Bucket" {
		t.Fatalf("expected sender override to win for email 2, got %q", byID["2"])
	}
	if byID["3"] != "Other" {
		t.Fatalf("expected email 3 to stay Other, got %q", byID["3"])
	}
}

func TestHasAny(t *testing.T) {
	if !hasAny([]string{"INBOX", "TRASH"}, "TRASH", "SPAM") {
		t.Fatal("expected TRASH to match")
	}
	if hasAny([]string{"INBOX"}, "TRASH", "SPAM") {
		t.Fatal("expected no match")
	}
}
