package hn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// topStoriesRetries is the retry budget for the ranking call. Exhausting it
// is fatal for the run; individual item lookups are never retried.
const topStoriesRetries = 2

const defaultRetryInterval = 500 * time.Millisecond

// Fetcher retrieves the ranked top stories, tolerating per-story failures.
type Fetcher struct {
	client        Client
	requestDelay  time.Duration
	retryInterval time.Duration
}

// NewFetcher creates a Fetcher. requestDelay is the pause between item
// lookups to stay polite to the API; zero disables it.
func NewFetcher(client Client, requestDelay time.Duration) *Fetcher {
	return &Fetcher{
		client:        client,
		requestDelay:  requestDelay,
		retryInterval: defaultRetryInterval,
	}
}

// FetchTop returns up to limit stories in ranking order, plus the number of
// stories dropped because their item lookup failed. The ranking call is
// retried with exponential backoff; if the budget is exhausted the whole
// fetch fails. A single failed item lookup only drops that story.
func (f *Fetcher) FetchTop(ctx context.Context, limit int) ([]Story, int, error) {
	var ids []int64
	fetch := func() error {
		var err error
		ids, err = f.client.TopStories(ctx, limit)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, topStoriesRetries), ctx)

	if err := backoff.Retry(fetch, policy); err != nil {
		return nil, 0, fmt.Errorf("fetching top stories: %w", err)
	}
	slog.Info("fetched story IDs", "count", len(ids))

	stories := make([]Story, 0, len(ids))
	dropped := 0
	for i, id := range ids {
		if i > 0 && f.requestDelay > 0 {
			select {
			case <-time.After(f.requestDelay):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}

		story, err := f.client.GetItem(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			slog.Warn("dropping story after failed lookup", "id", id, "error", err)
			dropped++
			continue
		}
		stories = append(stories, *story)
	}

	slog.Info("fetched stories", "count", len(stories), "dropped", dropped)
	return stories, dropped, nil
}
