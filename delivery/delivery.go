package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/shohei81/HN-summarizer/hn"
	"github.com/shohei81/HN-summarizer/summarizer"
)

// RestrictedNotice replaces the summary text for stories whose content could
// not be summarized, typically because the site blocks automated access.
const RestrictedNotice = "このコンテンツはアクセス制限があるため要約できませんでした。"

const (
	dateLayout           = "2006-01-02"
	defaultRetryInterval = 500 * time.Millisecond
)

// Item pairs a story with its summary for delivery.
type Item struct {
	Story   hn.Story
	Summary summarizer.Summary
}

// Degraded reports whether the item is delivered without a usable summary.
func (i Item) Degraded() bool {
	return i.Summary.Status != summarizer.StatusSuccess
}

// SummaryText returns the text to render for the item, substituting the
// restricted notice for degraded items.
func (i Item) SummaryText() string {
	if i.Degraded() {
		return RestrictedNotice
	}
	return i.Summary.Text
}

// Status describes the outcome of one channel's delivery.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result reports what one channel did with the items it was given.
type Result struct {
	Channel        string
	ItemsAttempted int
	ItemsDelivered int
	Status         Status
	Err            error
}

// Channel delivers a set of items to one destination. Deliver reports the
// outcome in the Result rather than an error so one channel's failure never
// interrupts another.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, items []Item) Result
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
