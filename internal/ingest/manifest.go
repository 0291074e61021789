package ingest

import (
	"encoding/json"

	"github.com/spec-kit/mail-ticket-service/internal/mailparse"
)

type manifestEntry struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// attachmentManifest describes the message's attachments for the ticket's
// attachment reference. Blobs are not stored.
func attachmentManifest(attachments []mailparse.Attachment) *string {
	if len(attachments) == 0 {
		return nil
	}
	entries := make([]manifestEntry, 0, len(attachments))
	for _, att := range attachments {
		entries = append(entries, manifestEntry{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        len(att.Data),
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil
	}
	ref := string(raw)
	return &ref
}
