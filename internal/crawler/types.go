// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Record is the extraction result for one input URL. Content fields are nil
// when unknown; an errored Record carries no content at all.
type Record struct {
	URL          string   `json:"url"`
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Username     *string  `json:"username"`
	LikeCount    *int64   `json:"like_count"`
	CommentCount *int64   `json:"comment_count"`
	ShareCount   *int64   `json:"share_count"`
	ViewCount    *int64   `json:"view_count"`
	ArchiveCount *int64   `json:"archive_count"`
	Hashtags     []string `json:"hashtags"`
	Error        *string  `json:"error"`
}

// FailedRecord builds an errored Record for url with every content field
// reset.
func FailedRecord(url string, cause error) Record {
	msg := "unknown error"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return Record{
		URL:      url,
		Hashtags: []string{},
		Error:    &msg,
	}
}

// Failed reports whether the record carries a non-empty error.
func (r Record) Failed() bool {
	return r.Error != nil && *r.Error != ""
}

// HasContent reports whether at least one content field resolved.
func (r Record) HasContent() bool {
	for _, s := range []*string{r.Title, r.Description, r.Username} {
		if s != nil && *s != "" {
			return true
		}
	}
	for _, n := range []*int64{r.LikeCount, r.CommentCount, r.ShareCount, r.ViewCount, r.ArchiveCount} {
		if n != nil {
			return true
		}
	}
	return false
}

// Normalize enforces the record invariants before persistence: hashtags are
// never null, and errored records drop any stale content.
func (r Record) Normalize() Record {
	if r.Hashtags == nil {
		r.Hashtags = []string{}
	}
	if r.Failed() {
		return Record{URL: r.URL, Hashtags: []string{}, Error: r.Error}
	}
	r.Error = nil
	return r
}

// Document is the persisted container for a run's records.
type Document struct {
	TotalVideos           int        `json:"total_videos"`
	ExtractedAt           time.Time  `json:"extracted_at"`
	FinalizedAt           *time.Time `json:"finalized_at,omitempty"`
	Videos                []Record   `json:"videos"`
	SuccessfulExtractions int        `json:"successful_extractions"`
	FailedExtractions     int        `json:"failed_extractions"`
}

// NewDocument wraps records in a Document stamped with at.
func NewDocument(records []Record, at time.Time) Document {
	doc := Document{
		ExtractedAt: at,
		Videos:      records,
	}
	doc.Recount()
	return doc
}

// Recount recomputes the summary counters from the records.
func (d *Document) Recount() {
	if d.Videos == nil {
		d.Videos = []Record{}
	}
	d.TotalVideos = len(d.Videos)
	d.SuccessfulExtractions = 0
	d.FailedExtractions = 0
	for _, rec := range d.Videos {
		if rec.Failed() {
			d.FailedExtractions++
		} else {
			d.SuccessfulExtractions++
		}
	}
}

// Item is a unit of work: a URL plus its position in the input.
type Item struct {
	Index int
	URL   string
}

// Summary is the outcome of a run, published once it completes.
type Summary struct {
	RunID      string    `json:"run_id"`
	Operation  string    `json:"operation"`
	OutputPath string    `json:"output_path"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}
