package gmailapi

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"google.golang.org/api/googleapi"
	gmailv1 "google.golang.org/api/gmail/v1"
)

const (
	batchChunkSize    = 10
	interChunkDelay   = 2 * time.Second
	maxRetryPasses    = 7
	batchWorkerCount  = 10
)

// BatchGetMessages fetches message ids in chunks of 10 with rate-limit
// retry/backoff. It returns the successfully fetched messages in input
// order, plus the subset of ids that permanently failed. HTTP 429/403 are
// retried up to maxRetryPasses times with jittered exponential backoff;
// any other HTTP error is immediately a permanent failure for that id.
func (t *Transport) BatchGetMessages(ctx context.Context, ids []string, format string) ([]*gmailv1.Message, []string, error) {
	results := make(map[string]*gmailv1.Message)
	permanentFailures := make(map[string]struct{})
	pending := append([]string(nil), ids...)

	for attempt := 0; attempt <= maxRetryPasses; attempt++ {
		if len(pending) == 0 {
			break
		}
		rateLimited := t.fetchChunked(ctx, pending, format, results, permanentFailures)
		if len(rateLimited) == 0 {
			break
		}
		pending = rateLimited
		if attempt == maxRetryPasses {
			for _, id := range pending {
				permanentFailures[id] = struct{}{}
			}
			log.Warn().Int("count", len(pending)).Int("retries", maxRetryPasses).Msg("messages still rate-limited after retries exhausted")
			break
		}
		backoff := time.Duration(math.Min(math.Pow(2, float64(attempt+1)), 64)) * time.Second
		backoff += time.Duration(rand.Float64() * float64(2*time.Second))
		log.Info().Int("count", len(pending)).Dur("backoff", backoff).Int("attempt", attempt+1).Msg("rate-limited, retrying batch-get")
		select {
		case <-ctx.Done():
			return orderedResults(ids, results), failedList(ids, permanentFailures), ctx.Err()
		case <-time.After(backoff):
		}
	}

	return orderedResults(ids, results), failedList(ids, permanentFailures), nil
}

// fetchChunked issues one pass over pending ids in chunks of batchChunkSize,
// using a small worker pool per chunk (the generated gmail/v1 client has no
// legacy batch-HTTP transport, so concurrency is emulated at this layer).
// It returns the ids that came back rate-limited in this pass.
func (t *Transport) fetchChunked(ctx context.Context, pending []string, format string, results map[string]*gmailv1.Message, permanentFailures map[string]struct{}) []string {
	var mu sync.Mutex
	var rateLimited []string

	for i := 0; i < len(pending); i += batchChunkSize {
		end := i + batchChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[i:end]

		jobs := make(chan string, len(chunk))
		for _, id := range chunk {
			jobs <- id
		}
		close(jobs)

		var wg sync.WaitGroup
		workers := batchWorkerCount
		if workers > len(chunk) {
			workers = len(chunk)
		}
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				for id := range jobs {
					msg, err := t.svc.Users.Messages.Get("me", id).Format(format).Context(ctx).Do()
					mu.Lock()
					switch {
					case err == nil:
						results[id] = msg
					case isRateLimited(err):
						rateLimited = append(rateLimited, id)
					default:
						permanentFailures[id] = struct{}{}
						log.Warn().Str("message_id", id).Err(err).Msg("permanent error fetching message")
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if end < len(pending) {
			select {
			case <-ctx.Done():
				return rateLimited
			case <-time.After(interChunkDelay):
			}
		}
	}
	return rateLimited
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if ok := asGoogleAPIError(err, &gerr); ok {
		return gerr.Code == 429 || gerr.Code == 403
	}
	return false
}

func asGoogleAPIError(err error, target **googleapi.Error) bool {
	if err == nil {
		return false
	}
	if gerr, ok := err.(*googleapi.Error); ok {
		*target = gerr
		return true
	}
	return false
}

func orderedResults(ids []string, results map[string]*gmailv1.Message) []*gmailv1.Message {
	out := make([]*gmailv1.Message, 0, len(results))
	for _, id := range ids {
		if m, ok := results[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func failedList(ids []string, failures map[string]struct{}) []string {
	out := make([]string, 0, len(failures))
	for _, id := range ids {
		if _, ok := failures[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
