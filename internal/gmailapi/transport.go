package gmailapi

import (
	"context"
	"fmt"

	gmailv1 "google.golang.org/api/gmail/v1"
)

const user = "me"

// ListMessages pages through users.messages.list, applying query/labelIDs,
// stopping once max stub ids have been collected (0 means no cap).
func (t *Transport) ListMessages(ctx context.Context, query string, labelIDs []string, max int) ([]string, error) {
	var ids []string
	call := t.svc.Users.Messages.List(user).Q(query).MaxResults(500).Context(ctx)
	if len(labelIDs) > 0 {
		call = call.LabelIds(labelIDs...)
	}
	for {
		resp, err := call.Do()
		if err != nil {
			return ids, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if max > 0 && len(ids) >= max {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// GetMessage fetches a single message by id.
func (t *Transport) GetMessage(ctx context.Context, id, format string) (*gmailv1.Message, error) {
	return t.svc.Users.Messages.Get(user, id).Format(format).Context(ctx).Do()
}

// ProfileHistoryID returns the current mailbox history cursor.
func (t *Transport) ProfileHistoryID(ctx context.Context) (string, error) {
	profile, err := t.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return formatHistoryID(profile.HistoryId), nil
}

// HistoryRecord is a thin view over the subset of history fields the
// ingestion engine aggregates during incremental sync.
type HistoryRecord struct {
	ID              uint64
	MessagesAdded   []string
	MessagesDeleted []string
	LabelsAdded     map[string][]string // message id -> label ids
	LabelsRemoved   map[string][]string
}

var defaultHistoryTypes = []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"}

// ListHistory pages through users.history.list from sinceHistoryID. Gmail
// returns a 404 googleapi.Error when the cursor has expired; callers use
// that to trigger a fallback full sync.
func (t *Transport) ListHistory(ctx context.Context, sinceHistoryID uint64, types []string) ([]HistoryRecord, string, error) {
	if len(types) == 0 {
		types = defaultHistoryTypes
	}
	call := t.svc.Users.History.List(user).StartHistoryId(sinceHistoryID).HistoryTypes(types...).MaxResults(500).Context(ctx)

	var records []HistoryRecord
	var newest string
	for {
		resp, err := call.Do()
		if err != nil {
			return records, newest, err
		}
		if resp.HistoryId != 0 {
			newest = formatHistoryID(resp.HistoryId)
		}
		for _, h := range resp.History {
			rec := HistoryRecord{
				ID:            h.Id,
				LabelsAdded:   map[string][]string{},
				LabelsRemoved: map[string][]string{},
			}
			if h.Id != 0 {
				newest = formatHistoryID(h.Id)
			}
			for _, ma := range h.MessagesAdded {
				if ma.Message != nil {
					rec.MessagesAdded = append(rec.MessagesAdded, ma.Message.Id)
				}
			}
			for _, md := range h.MessagesDeleted {
				if md.Message != nil {
					rec.MessagesDeleted = append(rec.MessagesDeleted, md.Message.Id)
				}
			}
			for _, la := range h.LabelsAdded {
				if la.Message != nil {
					rec.LabelsAdded[la.Message.Id] = la.LabelIds
				}
			}
			for _, lr := range h.LabelsRemoved {
				if lr.Message != nil {
					rec.LabelsRemoved[lr.Message.Id] = lr.LabelIds
				}
			}
			records = append(records, rec)
		}
		if resp.NextPageToken == "" {
			break
		}
		call = call.PageToken(resp.NextPageToken)
	}
	return records, newest, nil
}

// ModifyMessage adds/removes labels on a message.
func (t *Transport) ModifyMessage(ctx context.Context, id string, addLabels, removeLabels []string) (*gmailv1.Message, error) {
	body := &gmailv1.ModifyMessageRequest{AddLabelIds: addLabels, RemoveLabelIds: removeLabels}
	return t.svc.Users.Messages.Modify(user, id, body).Context(ctx).Do()
}

// TrashMessage moves a message to Trash.
func (t *Transport) TrashMessage(ctx context.Context, id string) (*gmailv1.Message, error) {
	return t.svc.Users.Messages.Trash(user, id).Context(ctx).Do()
}

// UntrashMessage restores a message from Trash.
func (t *Transport) UntrashMessage(ctx context.Context, id string) (*gmailv1.Message, error) {
	return t.svc.Users.Messages.Untrash(user, id).Context(ctx).Do()
}

// ListLabels returns the full label catalog.
func (t *Transport) ListLabels(ctx context.Context) ([]*gmailv1.Label, error) {
	resp, err := t.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// GetLabel fetches a single label.
func (t *Transport) GetLabel(ctx context.Context, id string) (*gmailv1.Label, error) {
	return t.svc.Users.Labels.Get(user, id).Context(ctx).Do()
}

// CreateLabel creates a new user label.
func (t *Transport) CreateLabel(ctx context.Context, label *gmailv1.Label) (*gmailv1.Label, error) {
	return t.svc.Users.Labels.Create(user, label).Context(ctx).Do()
}

// UpdateLabel updates an existing label.
func (t *Transport) UpdateLabel(ctx context.Context, id string, label *gmailv1.Label) (*gmailv1.Label, error) {
	return t.svc.Users.Labels.Update(user, id, label).Context(ctx).Do()
}

// DeleteLabel removes a user label.
func (t *Transport) DeleteLabel(ctx context.Context, id string) error {
	return t.svc.Users.Labels.Delete(user, id).Context(ctx).Do()
}

// GetThread fetches a thread by id.
func (t *Transport) GetThread(ctx context.Context, id string) (*gmailv1.Thread, error) {
	return t.svc.Users.Threads.Get(user, id).Context(ctx).Do()
}

// ListThreads pages through users.threads.list.
func (t *Transport) ListThreads(ctx context.Context, query string, max int) ([]*gmailv1.Thread, error) {
	var threads []*gmailv1.Thread
	call := t.svc.Users.Threads.List(user).Q(query).MaxResults(500).Context(ctx)
	for {
		resp, err := call.Do()
		if err != nil {
			return threads, err
		}
		threads = append(threads, resp.Threads...)
		if max > 0 && len(threads) >= max {
			return threads[:max], nil
		}
		if resp.NextPageToken == "" {
			return threads, nil
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// ModifyThread adds/removes labels across every message in a thread.
func (t *Transport) ModifyThread(ctx context.Context, id string, addLabels, removeLabels []string) (*gmailv1.Thread, error) {
	body := &gmailv1.ModifyThreadRequest{AddLabelIds: addLabels, RemoveLabelIds: removeLabels}
	return t.svc.Users.Threads.Modify(user, id, body).Context(ctx).Do()
}

// TrashThread moves every message in a thread to Trash.
func (t *Transport) TrashThread(ctx context.Context, id string) (*gmailv1.Thread, error) {
	return t.svc.Users.Threads.Trash(user, id).Context(ctx).Do()
}

// GetAttachment fetches raw attachment data for a message part.
func (t *Transport) GetAttachment(ctx context.Context, messageID, attachmentID string) (*gmailv1.MessagePartBody, error) {
	return t.svc.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
}

// DownloadAttachment fetches and base64url-decodes an attachment's bytes.
func (t *Transport) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := t.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	decoded := decodeBase64URL(body.Data)
	return []byte(decoded), nil
}
