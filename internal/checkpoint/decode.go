package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

// legacyTimeLayout is the naive local timestamp older result files carry.
const legacyTimeLayout = "2006-01-02 15:04:05"

// timestamp accepts RFC 3339 and legacy timestamps. Legacy values have no
// offset and are read as UTC.
type timestamp struct{ time.Time }

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range []string{time.RFC3339Nano, legacyTimeLayout} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// decodeDocument reads a result document. A bare array of records is
// accepted and wrapped in a document with recomputed counters.
func decodeDocument(data []byte) (crawler.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var videos []crawler.Record
		if err := json.Unmarshal(trimmed, &videos); err != nil {
			return crawler.Document{}, err
		}
		doc := crawler.Document{Videos: videos}
		doc.Recount()
		return doc, nil
	}

	var raw struct {
		crawler.Document
		ExtractedAt timestamp  `json:"extracted_at"`
		FinalizedAt *timestamp `json:"finalized_at"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return crawler.Document{}, err
	}
	doc := raw.Document
	doc.ExtractedAt = raw.ExtractedAt.Time
	if raw.FinalizedAt != nil && !raw.FinalizedAt.IsZero() {
		at := raw.FinalizedAt.Time
		doc.FinalizedAt = &at
	}
	if doc.Videos == nil {
		doc.Videos = []crawler.Record{}
	}
	return doc, nil
}
