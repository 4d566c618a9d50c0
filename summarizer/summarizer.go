package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/shohei81/HN-summarizer/hn"
)

// maxPromptContent bounds how much article text is embedded in the prompt.
const maxPromptContent = 4000

// Status classifies the outcome of one summarization.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Summary is the summarization outcome for one story. A provider failure is
// data rather than an error: Reason explains it and Retryable records
// whether it looked transient.
type Summary struct {
	StoryID   int64
	Text      string
	Status    Status
	Reason    string
	Retryable bool
}

// Provider generates text from a prompt. Implementations wrap one LLM
// backend; retry policy belongs to the caller, not here.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Summarizer turns extracted article content into digest summaries through a
// pluggable provider.
type Summarizer struct {
	provider Provider
}

// New creates a Summarizer backed by the given provider.
func New(provider Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// ProviderName returns the name of the backing provider.
func (s *Summarizer) ProviderName() string {
	return s.provider.Name()
}

// Summarize generates a Japanese summary for one story. It never returns an
// error: a provider failure becomes a failed Summary so one story cannot
// abort the batch.
func (s *Summarizer) Summarize(ctx context.Context, story hn.Story, content string) Summary {
	text, err := s.provider.Generate(ctx, buildPrompt(story, content))
	if err != nil {
		slog.Warn("summarization failed", "story_id", story.ID, "provider", s.provider.Name(), "error", err)
		return Summary{
			StoryID:   story.ID,
			Status:    StatusFailed,
			Reason:    err.Error(),
			Retryable: IsTransient(err),
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Summary{
			StoryID:   story.ID,
			Status:    StatusFailed,
			Reason:    fmt.Sprintf("empty response from %s", s.provider.Name()),
			Retryable: true,
		}
	}

	return Summary{StoryID: story.ID, Text: text, Status: StatusSuccess}
}

// buildPrompt renders the summarization request. The digest is written in
// Japanese regardless of the article language.
func buildPrompt(story hn.Story, content string) string {
	if content == "" {
		content = "No content available"
	}
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}

	url := story.URL
	if url == "" {
		url = "No URL"
	}

	return fmt.Sprintf(`Please summarize the following article from Hacker News in Japanese:

Title: %s
URL: %s
Points: %d
Comments: %d

Content:
%s

記事の主要なポイント、重要な洞察、重要な詳細を捉えた簡潔な要約（3〜5段落）を日本語で提供してください。
要約は元の記事を読んでいない人にとって有益で分かりやすいものにしてください。
前置きは含めず、直接要約の内容から始めてください。
箇条書きではなく、流れのある文章形式で提供してください。`,
		story.Title, url, story.Score, story.Descendants, content)
}

// apiError carries the HTTP status of a failed provider call so retry
// decisions can tell rate limits from bad requests.
type apiError struct {
	provider string
	status   int
	body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.provider, e.status, e.body)
}

// IsTransient reports whether a provider error is worth retrying: timeouts,
// network failures, rate limits, and server-side errors qualify. Cancellation
// and client-side rejections do not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status == http.StatusRequestTimeout ||
			apiErr.status == http.StatusTooManyRequests ||
			apiErr.status >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
