package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shohei81/HN-summarizer/delivery"
	"github.com/shohei81/HN-summarizer/extractor"
	"github.com/shohei81/HN-summarizer/hn"
	"github.com/shohei81/HN-summarizer/summarizer"
)

// summarizeRetries bounds how often one story's summarization is reattempted
// after a transient provider failure. Permanent failures are never retried.
const summarizeRetries = 2

const defaultRetryInterval = 500 * time.Millisecond

// StoryFetcher returns the current top stories in ranking order, along with
// the number of stories dropped because their details could not be fetched.
type StoryFetcher interface {
	FetchTop(ctx context.Context, limit int) ([]hn.Story, int, error)
}

// ContentExtractor pulls readable article text for one story.
type ContentExtractor interface {
	Extract(ctx context.Context, storyID int64, url string) extractor.Content
}

// Summarizer generates a summary for one story's content.
type Summarizer interface {
	Summarize(ctx context.Context, story hn.Story, content string) summarizer.Summary
	ProviderName() string
}

// Dispatcher fans finished items out to the enabled delivery channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, items []delivery.Item) []delivery.Result
	Channels() []string
}

// Phase names the stage a run is in; a failed report records the phase it
// could not get past.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseDelivering Phase = "delivering"
	PhaseDone       Phase = "done"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// ExitCode maps the run outcome onto the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	default:
		return 2
	}
}

// Report is the externally observable outcome of one run. Items holds the
// per-story outcomes in ranking order.
type Report struct {
	RunID            string
	Provider         string
	Status           Status
	Phase            Phase
	StoriesFetched   int
	StoriesDropped   int
	StoriesDegraded  int
	Items            []delivery.Item
	Results          []delivery.Result
	ChannelsDisabled []string
	Err              error
	Elapsed          time.Duration
}

// Config holds the pipeline settings for one Runner. DisabledChannels names
// the channels excluded at configuration time; they are echoed into the
// report for diagnosis.
type Config struct {
	Stories          int
	Workers          int
	SummarizeTimeout time.Duration
	DeliveryTimeout  time.Duration
	DisabledChannels []string
}

// Runner executes the fetch, extract, summarize, deliver pipeline.
type Runner struct {
	fetcher       StoryFetcher
	extractor     ContentExtractor
	summarizer    Summarizer
	dispatcher    Dispatcher
	config        Config
	retryInterval time.Duration
}

// NewRunner creates a Runner with all dependencies.
func NewRunner(fetcher StoryFetcher, ext ContentExtractor, sum Summarizer, dispatcher Dispatcher, cfg Config) *Runner {
	return &Runner{
		fetcher:       fetcher,
		extractor:     ext,
		summarizer:    sum,
		dispatcher:    dispatcher,
		config:        cfg,
		retryInterval: defaultRetryInterval,
	}
}

// Run executes one complete digest run. It always returns a Report; fatal
// conditions are recorded in the report rather than raised, so the caller
// can always log and map the outcome to an exit code.
func (r *Runner) Run(ctx context.Context) Report {
	start := time.Now()
	report := Report{
		RunID:            uuid.NewString(),
		Provider:         r.summarizer.ProviderName(),
		Phase:            PhaseFetching,
		ChannelsDisabled: r.config.DisabledChannels,
	}
	log := slog.With("run_id", report.RunID)

	log.Info("run starting", "phase", report.Phase, "stories", r.config.Stories, "provider", report.Provider)

	stories, dropped, err := r.fetcher.FetchTop(ctx, r.config.Stories)
	if err != nil {
		report.Status = StatusFailed
		report.Err = fmt.Errorf("fetching stories: %w", err)
		report.Elapsed = time.Since(start)
		log.Error("run failed", "phase", report.Phase, "error", report.Err)
		return report
	}
	report.StoriesFetched = len(stories)
	report.StoriesDropped = dropped

	report.Phase = PhaseProcessing
	log.Info("processing stories", "phase", report.Phase, "count", len(stories))
	items := r.process(ctx, log, stories)
	report.Items = items
	for _, item := range items {
		if item.Degraded() {
			report.StoriesDegraded++
		}
	}

	if len(r.dispatcher.Channels()) == 0 {
		report.Phase = PhaseDelivering
		report.Status = StatusFailed
		report.Err = errors.New("no delivery channels enabled")
		report.Elapsed = time.Since(start)
		log.Error("run failed", "phase", report.Phase, "error", report.Err)
		return report
	}

	if len(items) == 0 {
		report.Phase = PhaseDone
		report.Status = StatusSuccess
		if dropped > 0 {
			report.Status = StatusPartial
		}
		report.Elapsed = time.Since(start)
		log.Warn("no stories to deliver", "status", report.Status, "dropped", dropped)
		return report
	}

	report.Phase = PhaseDelivering
	log.Info("delivering stories", "phase", report.Phase, "count", len(items), "channels", r.dispatcher.Channels())

	dctx := ctx
	if r.config.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.config.DeliveryTimeout)
		defer cancel()
	}
	report.Results = r.dispatcher.Dispatch(dctx, items)

	report.Phase = PhaseDone
	report.Status = aggregate(report.Results)
	report.Elapsed = time.Since(start)
	log.Info("run complete", "status", report.Status,
		"stories", report.StoriesFetched, "dropped", report.StoriesDropped,
		"degraded", report.StoriesDegraded, "elapsed", report.Elapsed)
	return report
}

// process turns each story into a delivery item, preserving ranking order
// regardless of worker completion order. Failures degrade single items and
// never abort the batch.
func (r *Runner) process(ctx context.Context, log *slog.Logger, stories []hn.Story) []delivery.Item {
	items := make([]delivery.Item, len(stories))

	workers := r.config.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, story := range stories {
		g.Go(func() error {
			items[i] = delivery.Item{Story: story, Summary: r.processStory(gctx, log, story)}
			return nil
		})
	}
	g.Wait()

	return items
}

func (r *Runner) processStory(ctx context.Context, log *slog.Logger, story hn.Story) summarizer.Summary {
	content := r.extractor.Extract(ctx, story.ID, story.URL)

	switch content.Status {
	case extractor.StatusSuccess:
	case extractor.StatusSkipped:
		log.Info("story skipped, no article content", "story_id", story.ID, "reason", content.Reason)
		return summarizer.Summary{StoryID: story.ID, Status: summarizer.StatusFailed, Reason: content.Reason}
	default:
		log.Warn("content extraction failed", "story_id", story.ID, "reason", content.Reason)
		return summarizer.Summary{StoryID: story.ID, Status: summarizer.StatusFailed, Reason: content.Reason}
	}

	summary := r.summarize(ctx, story, content.Text)
	if summary.Status != summarizer.StatusSuccess {
		log.Warn("summarization failed", "story_id", story.ID, "reason", summary.Reason)
	}
	return summary
}

// summarize calls the provider for one story, retrying transient failures
// up to the per-item budget.
func (r *Runner) summarize(ctx context.Context, story hn.Story, content string) summarizer.Summary {
	var summary summarizer.Summary

	op := func() error {
		sctx := ctx
		if r.config.SummarizeTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, r.config.SummarizeTimeout)
			defer cancel()
		}

		summary = r.summarizer.Summarize(sctx, story, content)
		if summary.Status == summarizer.StatusSuccess {
			return nil
		}
		if !summary.Retryable {
			return backoff.Permanent(errors.New(summary.Reason))
		}
		return errors.New(summary.Reason)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval
	// The summary itself carries the final outcome; the error only drives
	// the retry loop.
	_ = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, summarizeRetries), ctx))

	return summary
}

// aggregate folds per-channel results into the run status: success only if
// every channel succeeded, failed only if every channel failed.
func aggregate(results []delivery.Result) Status {
	if len(results) == 0 {
		return StatusFailed
	}

	succeeded := 0
	failed := 0
	for _, res := range results {
		switch res.Status {
		case delivery.StatusSuccess:
			succeeded++
		case delivery.StatusFailed:
			failed++
		}
	}

	switch {
	case succeeded == len(results):
		return StatusSuccess
	case failed == len(results):
		return StatusFailed
	default:
		return StatusPartial
	}
}
