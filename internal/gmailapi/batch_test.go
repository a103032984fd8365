package gmailapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// newTestTransport builds a Transport backed by an httptest server that
// simulates Gmail's messages.get endpoint for a fixed set of ids.
func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmailv1.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewTransportFromService(svc)
}

func messageIDFromPath(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

func TestBatchGetMessages_RateLimitThenSuccess(t *testing.T) {
	var attempts sync.Map // id -> *int32

	handler := func(w http.ResponseWriter, r *http.Request) {
		id := messageIDFromPath(r.URL.Path)
		counter, _ := attempts.LoadOrStore(id, new(int32))
		n := atomic.AddInt32(counter.(*int32), 1)

		if (id == "a" || id == "b") && n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 429, "message": "rate limited"},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(&gmailv1.Message{Id: id})
	}

	tr := newTestTransport(t, handler)

	start := time.Now()
	msgs, failed, err := tr.BatchGetMessages(context.Background(), []string{"a", "b", "c"}, "metadata")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no permanent failures, got %v", failed)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 successes, got %d", len(msgs))
	}
	if elapsed < 2*time.Second {
		t.Errorf("expected at least a 2s backoff sleep between retry passes, elapsed=%v", elapsed)
	}
}

func TestBatchGetMessages_PermanentFailure(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		id := messageIDFromPath(r.URL.Path)
		if id == "bad" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 404, "message": "not found"},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(&gmailv1.Message{Id: id})
	}
	tr := newTestTransport(t, handler)

	msgs, failed, err := tr.BatchGetMessages(context.Background(), []string{"good", "bad"}, "metadata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Id != "good" {
		t.Fatalf("expected only 'good' to succeed, got %v", msgs)
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Fatalf("expected 'bad' to be a permanent failure, got %v", failed)
	}
}
