package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	readability "github.com/go-shiori/go-readability"
)

const maxContentLength = 4000

const userAgent = "HN Summarizer Bot/1.0"

// extractRetries is the per-URL retry budget for transient fetch failures.
const extractRetries = 2

const defaultRetryInterval = 500 * time.Millisecond

// Status classifies the outcome of one extraction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Content is the extracted article text for one story. Text is empty unless
// Status is success; Reason explains failed and skipped outcomes.
type Content struct {
	StoryID int64
	Text    string
	Status  Status
	Reason  string
}

// Extractor turns a story URL into readable plain text.
type Extractor interface {
	Extract(ctx context.Context, storyID int64, url string) Content
}

type httpExtractor struct {
	client        *http.Client
	retryInterval time.Duration
}

// New creates an Extractor with the given timeout for HTTP requests.
func New(timeout time.Duration) Extractor {
	return &httpExtractor{
		client:        &http.Client{Timeout: timeout},
		retryInterval: defaultRetryInterval,
	}
}

// NewWithClient creates an Extractor with a custom HTTP client (for testing).
func NewWithClient(client *http.Client) Extractor {
	return &httpExtractor{
		client:        client,
		retryInterval: defaultRetryInterval,
	}
}

// Extract fetches the URL and extracts readable text, truncated to 4000
// characters. It never returns an error: a story without a URL is skipped,
// and any fetch or parse failure is reported as a failed Content. Transient
// HTTP failures are retried with backoff; access-denied and gone statuses
// are not.
func (e *httpExtractor) Extract(ctx context.Context, storyID int64, url string) Content {
	if url == "" {
		return Content{StoryID: storyID, Status: StatusSkipped, Reason: "story has no URL"}
	}

	var text string
	fetch := func() error {
		var err error
		text, err = e.fetchOnce(ctx, url)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, extractRetries), ctx)

	if err := backoff.Retry(fetch, policy); err != nil {
		slog.Warn("content extraction failed", "story_id", storyID, "url", url, "error", err)
		return Content{StoryID: storyID, Status: StatusFailed, Reason: err.Error()}
	}

	if text == "" {
		return Content{StoryID: storyID, Status: StatusFailed, Reason: "no readable text"}
	}

	return Content{StoryID: storyID, Text: text, Status: StatusSuccess}
}

func (e *httpExtractor) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("creating request for %s: %w", url, err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetching %s returned status %d", url, resp.StatusCode)
		if permanentStatus(resp.StatusCode) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	article, err := readability.FromReader(resp.Body, nil)
	if err != nil {
		// Unparseable content will not improve on retry
		return "", backoff.Permanent(fmt.Errorf("extracting content from %s: %w", url, err))
	}

	content := strings.TrimSpace(article.TextContent)
	if len(content) > maxContentLength {
		content = content[:maxContentLength]
	}

	return content, nil
}

// permanentStatus reports whether an HTTP status means the page will never
// be fetchable, such as paywalls answering 403.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
