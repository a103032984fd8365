package gmailapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nitinnat/gmail-parser/internal/model"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// parseHeaders flattens Gmail's header list into a name->value map; when a
// header name repeats, the last value wins.
func parseHeaders(headers []*gmailv1.MessagePartHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Name] = h.Value
	}
	return out
}

// dateLayouts are tried in order; Gmail's Date header is not always RFC5322-strict.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// parseDateLenient parses a Date: header leniently, returning the zero time
// and false if no layout matches.
func parseDateLenient(h string) (time.Time, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, h); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func hasLabelID(labelIDs []string, id string) bool {
	for _, l := range labelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// ParseMessageMetadata extracts the lightweight fields needed for a metadata
// refresh pass (format=metadata), without touching the MIME body.
func ParseMessageMetadata(raw *gmailv1.Message) model.ParsedMessage {
	headers := parseHeaders(raw.Payload.GetHeaders())
	labelIDs := raw.LabelIds
	return model.ParsedMessage{
		GmailID:    raw.Id,
		ThreadID:   raw.ThreadId,
		Subject:    headers["Subject"],
		Sender:     headers["From"],
		Snippet:    raw.Snippet,
		RawHeaders: headers,
		IsRead:     !hasLabelID(labelIDs, "UNREAD"),
		IsStarred:  hasLabelID(labelIDs, "STARRED"),
		IsDraft:    hasLabelID(labelIDs, "DRAFT"),
		HistoryID:  fmt.Sprintf("%d", raw.HistoryId),
		LabelIDs:   labelIDs,
	}
}

// ParseMessage fully decodes a raw Gmail message (format=full) into a
// ParsedMessage: headers, recipients, date, body text/html, attachments.
func ParseMessage(raw *gmailv1.Message) model.ParsedMessage {
	payload := raw.Payload
	var headers map[string]string
	if payload != nil {
		headers = parseHeaders(payload.GetHeaders())
	}
	labelIDs := raw.LabelIds

	var bodyText, bodyHTML string
	if payload != nil {
		bodyText, bodyHTML = extractBody(payload)
	}

	var dateISO string
	if d, ok := parseDateLenient(headers["Date"]); ok {
		dateISO = d.UTC().Format(time.RFC3339)
	}

	var attachments []model.Attachment
	if payload != nil {
		for _, a := range extractAttachments(payload) {
			attachments = append(attachments, model.Attachment{
				AttachmentID: a.AttachmentID,
				Filename:     a.Filename,
				MimeType:     a.MimeType,
				Size:         a.Size,
			})
		}
	}

	return model.ParsedMessage{
		GmailID:  raw.Id,
		ThreadID: raw.ThreadId,
		Subject:  headers["Subject"],
		Sender:   headers["From"],
		Recipients: model.Recipients{
			To:  headers["To"],
			Cc:  headers["Cc"],
			Bcc: headers["Bcc"],
		},
		Date:         dateISO,
		InternalDate: raw.InternalDate,
		Snippet:      raw.Snippet,
		BodyText:     bodyText,
		BodyHTML:     bodyHTML,
		RawHeaders:   headers,
		SizeEstimate: raw.SizeEstimate,
		IsRead:       !hasLabelID(labelIDs, "UNREAD"),
		IsStarred:    hasLabelID(labelIDs, "STARRED"),
		IsDraft:      hasLabelID(labelIDs, "DRAFT"),
		HistoryID:    fmt.Sprintf("%d", raw.HistoryId),
		LabelIDs:     labelIDs,
		Attachments:  attachments,
	}
}

// formatHistoryID renders a uint64 Gmail history id as its decimal string form.
func formatHistoryID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
