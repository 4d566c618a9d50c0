package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"

	"github.com/shohei81/HN-summarizer/config"
)

const (
	slackSendRetries  = 2
	slackSectionLimit = 3000
	defaultBatchPause = 1 * time.Second
)

// SlackChannel posts Block Kit messages to an incoming webhook, splitting
// the items into batches so single messages stay within Slack's limits.
type SlackChannel struct {
	settings      config.SlackSettings
	client        *http.Client
	batchPause    time.Duration
	retryInterval time.Duration
}

// NewSlack creates the Slack channel. A nil client uses a default with a
// request timeout.
func NewSlack(settings config.SlackSettings, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackChannel{
		settings:      settings,
		client:        client,
		batchPause:    defaultBatchPause,
		retryInterval: defaultRetryInterval,
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

// Deliver sends the items in batches of max_summaries_per_message stories,
// pausing between webhook posts. Failed batches are recorded and do not stop
// the remaining ones.
func (s *SlackChannel) Deliver(ctx context.Context, items []Item) Result {
	result := Result{Channel: s.Name(), ItemsAttempted: len(items)}

	date := time.Now().Format(dateLayout)
	size := s.settings.MaxPerMessage
	if size <= 0 {
		size = 3
	}
	batches := batchItems(items, size)

	var delivered, failedBatches int
	var firstErr error

	for i, batch := range batches {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				failedBatches += len(batches) - i
				break
			}
		}

		msg := s.buildMessage(batch, date)
		if err := s.postWithRetry(ctx, msg); err != nil {
			slog.Error("slack batch send failed", "batch", i+1, "stories", len(batch), "error", err)
			failedBatches++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered += len(batch)
	}

	result.ItemsDelivered = delivered
	switch {
	case failedBatches == 0:
		result.Status = StatusSuccess
		slog.Info("slack delivery complete", "batches", len(batches), "stories", delivered)
	case delivered > 0:
		result.Status = StatusPartial
		result.Err = firstErr
	default:
		result.Status = StatusFailed
		result.Err = firstErr
	}
	return result
}

func (s *SlackChannel) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.batchPause):
		return nil
	}
}

func (s *SlackChannel) buildMessage(items []Item, date string) *slack.WebhookMessage {
	return &slack.WebhookMessage{
		Channel:   s.settings.Channel,
		Username:  s.settings.Username,
		IconEmoji: s.settings.IconEmoji,
		Blocks:    &slack.Blocks{BlockSet: buildSlackBlocks(items, date)},
	}
}

func (s *SlackChannel) postWithRetry(ctx context.Context, msg *slack.WebhookMessage) error {
	op := func() error {
		err := slack.PostWebhookCustomHTTPContext(ctx, s.settings.WebhookURL.Value, s.client, msg)
		if err == nil {
			return nil
		}
		if !transientWebhook(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, slackSendRetries), ctx))
}

// transientWebhook reports whether a webhook post is worth another attempt.
// Rate limits, server errors and network errors qualify.
func transientWebhook(err error) bool {
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return true
	}
	var scErr slack.StatusCodeError
	if errors.As(err, &scErr) {
		return scErr.Code == http.StatusTooManyRequests || scErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func buildSlackBlocks(items []Item, date string) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Hacker News Top Stories - "+date, true, false)),
		slack.NewDividerBlock(),
	}

	for _, item := range items {
		url := item.Story.URL
		if url == "" {
			url = "#"
		}
		title := fmt.Sprintf("*<%s|%s>*", url, escapeHTML(item.Story.Title))
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), nil, nil))

		if item.Degraded() {
			blocks = append(blocks, markdownSection("_"+RestrictedNotice+"_"))
		} else {
			for _, part := range splitSections(item.Summary.Text, slackSectionLimit) {
				blocks = append(blocks, markdownSection(part))
			}
		}

		blocks = append(blocks, slack.NewDividerBlock())
	}

	return blocks
}

func markdownSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

// splitSections cuts text into rune-safe chunks of at most limit characters.
func splitSections(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

func batchItems(items []Item, size int) [][]Item {
	var batches [][]Item
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
