package digest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shohei81/HN-summarizer/delivery"
	"github.com/shohei81/HN-summarizer/extractor"
	"github.com/shohei81/HN-summarizer/hn"
	"github.com/shohei81/HN-summarizer/summarizer"
)

// --- Mock implementations ---

type mockFetcher struct {
	stories  []hn.Story
	dropped  int
	err      error
	gotLimit int
}

func (m *mockFetcher) FetchTop(ctx context.Context, limit int) ([]hn.Story, int, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.stories, m.dropped, nil
}

type mockExtractor struct {
	contents map[int64]extractor.Content
	delays   map[int64]time.Duration
}

func (m *mockExtractor) Extract(ctx context.Context, storyID int64, url string) extractor.Content {
	if d, ok := m.delays[storyID]; ok {
		time.Sleep(d)
	}
	if c, ok := m.contents[storyID]; ok {
		return c
	}
	if url == "" {
		return extractor.Content{StoryID: storyID, Status: extractor.StatusSkipped, Reason: "story has no URL"}
	}
	return extractor.Content{StoryID: storyID, Status: extractor.StatusSuccess, Text: fmt.Sprintf("content of story %d", storyID)}
}

type mockSummarizer struct {
	failures map[int64][]summarizer.Summary
	calls    map[int64]int
}

func newMockSummarizer() *mockSummarizer {
	return &mockSummarizer{
		failures: make(map[int64][]summarizer.Summary),
		calls:    make(map[int64]int),
	}
}

func (m *mockSummarizer) Summarize(ctx context.Context, story hn.Story, content string) summarizer.Summary {
	m.calls[story.ID]++
	if q := m.failures[story.ID]; len(q) > 0 {
		m.failures[story.ID] = q[1:]
		return q[0]
	}
	return summarizer.Summary{StoryID: story.ID, Text: "summary of " + story.Title, Status: summarizer.StatusSuccess}
}

func (m *mockSummarizer) ProviderName() string { return "mock" }

type mockDispatcher struct {
	results  []delivery.Result
	channels []string
	got      []delivery.Item
	calls    int
}

func (m *mockDispatcher) Dispatch(ctx context.Context, items []delivery.Item) []delivery.Result {
	m.calls++
	m.got = items
	return m.results
}

func (m *mockDispatcher) Channels() []string { return m.channels }

func twoChannelSuccess(n int) *mockDispatcher {
	return &mockDispatcher{
		channels: []string{"email", "slack"},
		results: []delivery.Result{
			{Channel: "email", Status: delivery.StatusSuccess, ItemsAttempted: n, ItemsDelivered: n},
			{Channel: "slack", Status: delivery.StatusSuccess, ItemsAttempted: n, ItemsDelivered: n},
		},
	}
}

func threeStories() []hn.Story {
	return []hn.Story{
		{ID: 1, Title: "Article One", URL: "http://one.com", Score: 100, Descendants: 50},
		{ID: 2, Title: "Article Two", URL: "http://two.com", Score: 200, Descendants: 80},
		{ID: 3, Title: "Article Three", URL: "http://three.com", Score: 50, Descendants: 10},
	}
}

func newTestRunner(f StoryFetcher, e ContentExtractor, s Summarizer, d Dispatcher, cfg Config) *Runner {
	r := NewRunner(f, e, s, d, cfg)
	r.retryInterval = time.Millisecond
	return r
}

// --- Tests ---

func TestRun_FullPipeline(t *testing.T) {
	fetcher := &mockFetcher{stories: threeStories()}
	sum := newMockSummarizer()
	dispatcher := twoChannelSuccess(3)

	runner := newTestRunner(fetcher, &mockExtractor{}, sum, dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", report.Status, report.Err)
	}
	if report.Phase != PhaseDone {
		t.Errorf("expected done phase, got %s", report.Phase)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if report.Provider != "mock" {
		t.Errorf("expected provider mock, got %s", report.Provider)
	}
	if report.StoriesFetched != 3 || report.StoriesDegraded != 0 {
		t.Errorf("expected 3 fetched and 0 degraded, got %d/%d", report.StoriesFetched, report.StoriesDegraded)
	}
	if fetcher.gotLimit != 3 {
		t.Errorf("expected fetch limit 3, got %d", fetcher.gotLimit)
	}

	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}
	if len(dispatcher.got) != 3 {
		t.Fatalf("expected 3 items dispatched, got %d", len(dispatcher.got))
	}
	for i, want := range []int64{1, 2, 3} {
		if dispatcher.got[i].Story.ID != want {
			t.Errorf("item %d: expected story %d, got %d", i, want, dispatcher.got[i].Story.ID)
		}
	}
	if dispatcher.got[0].Summary.Text != "summary of Article One" {
		t.Errorf("unexpected summary %q", dispatcher.got[0].Summary.Text)
	}
	if len(report.Items) != 3 {
		t.Errorf("expected 3 items in the report, got %d", len(report.Items))
	}
	if len(report.Results) != 2 {
		t.Errorf("expected 2 channel results, got %d", len(report.Results))
	}
}

func TestRun_ReportsDisabledChannels(t *testing.T) {
	dispatcher := &mockDispatcher{
		channels: []string{"email"},
		results:  []delivery.Result{{Channel: "email", Status: delivery.StatusSuccess, ItemsDelivered: 3}},
	}

	cfg := Config{Stories: 3, Workers: 1, DisabledChannels: []string{"slack"}}
	runner := newTestRunner(&mockFetcher{stories: threeStories()}, &mockExtractor{}, newMockSummarizer(), dispatcher, cfg)
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", report.Status)
	}
	if len(report.ChannelsDisabled) != 1 || report.ChannelsDisabled[0] != "slack" {
		t.Errorf("expected the disabled channel in the report, got %v", report.ChannelsDisabled)
	}
}

func TestRun_DegradedStoryStillDelivered(t *testing.T) {
	ext := &mockExtractor{contents: map[int64]extractor.Content{
		2: {StoryID: 2, Status: extractor.StatusFailed, Reason: "fetching page: status 403"},
	}}
	sum := newMockSummarizer()
	dispatcher := twoChannelSuccess(3)

	runner := newTestRunner(&mockFetcher{stories: threeStories()}, ext, sum, dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success despite one degraded story, got %s", report.Status)
	}
	if report.StoriesDegraded != 1 {
		t.Errorf("expected 1 degraded story, got %d", report.StoriesDegraded)
	}
	if len(dispatcher.got) != 3 {
		t.Fatalf("expected all 3 items dispatched, got %d", len(dispatcher.got))
	}
	if !dispatcher.got[1].Degraded() {
		t.Error("expected story 2 to be degraded")
	}
	if dispatcher.got[1].SummaryText() != delivery.RestrictedNotice {
		t.Errorf("expected restricted notice, got %q", dispatcher.got[1].SummaryText())
	}
	if sum.calls[2] != 0 {
		t.Errorf("expected no provider call for failed extraction, got %d", sum.calls[2])
	}
	if sum.calls[1] != 1 || sum.calls[3] != 1 {
		t.Error("expected healthy stories to be summarized")
	}
}

func TestRun_NoURLStorySkipsProvider(t *testing.T) {
	stories := threeStories()
	stories[1].URL = ""
	sum := newMockSummarizer()
	dispatcher := twoChannelSuccess(3)

	runner := newTestRunner(&mockFetcher{stories: stories}, &mockExtractor{}, sum, dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", report.Status)
	}
	if sum.calls[2] != 0 {
		t.Errorf("expected no provider call for URL-less story, got %d", sum.calls[2])
	}
	if !dispatcher.got[1].Degraded() {
		t.Error("expected URL-less story to carry the placeholder")
	}
	if len(dispatcher.got) != 3 {
		t.Errorf("expected URL-less story to stay in the digest, got %d items", len(dispatcher.got))
	}
}

func TestRun_FetchFailure(t *testing.T) {
	fetcher := &mockFetcher{err: errors.New("network error")}
	dispatcher := twoChannelSuccess(0)

	runner := newTestRunner(fetcher, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", report.Status)
	}
	if report.Phase != PhaseFetching {
		t.Errorf("expected failure in fetching phase, got %s", report.Phase)
	}
	if report.Err == nil || !errors.Is(report.Err, fetcher.err) {
		t.Errorf("expected wrapped fetch error, got %v", report.Err)
	}
	if dispatcher.calls != 0 {
		t.Error("expected no delivery attempt after fatal fetch failure")
	}
	if report.Status.ExitCode() != 2 {
		t.Errorf("expected exit code 2, got %d", report.Status.ExitCode())
	}
}

func TestRun_NoChannelsEnabled(t *testing.T) {
	dispatcher := &mockDispatcher{}

	runner := newTestRunner(&mockFetcher{stories: threeStories()}, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusFailed {
		t.Fatalf("expected failed with no channels, got %s", report.Status)
	}
	if report.Phase != PhaseDelivering {
		t.Errorf("expected failure at delivering phase, got %s", report.Phase)
	}
	if dispatcher.calls != 0 {
		t.Error("expected no dispatch without channels")
	}
}

func TestRun_NoStories(t *testing.T) {
	dispatcher := twoChannelSuccess(0)

	runner := newTestRunner(&mockFetcher{}, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success for an empty ranking, got %s", report.Status)
	}
	if dispatcher.calls != 0 {
		t.Error("expected dispatch to be skipped with nothing to deliver")
	}
}

func TestRun_NoStoriesAfterDrops(t *testing.T) {
	dispatcher := twoChannelSuccess(0)

	runner := newTestRunner(&mockFetcher{dropped: 2}, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusPartial {
		t.Fatalf("expected partial when drops emptied the batch, got %s", report.Status)
	}
	if dispatcher.calls != 0 {
		t.Error("expected dispatch to be skipped with nothing to deliver")
	}
}

func TestRun_PartialWhenOneChannelFails(t *testing.T) {
	dispatcher := &mockDispatcher{
		channels: []string{"email", "slack"},
		results: []delivery.Result{
			{Channel: "email", Status: delivery.StatusFailed, Err: errors.New("smtp down")},
			{Channel: "slack", Status: delivery.StatusSuccess, ItemsDelivered: 3},
		},
	}

	runner := newTestRunner(&mockFetcher{stories: threeStories()}, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", report.Status)
	}
	if report.Status.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %d", report.Status.ExitCode())
	}
}

func TestRun_FailedWhenAllChannelsFail(t *testing.T) {
	dispatcher := &mockDispatcher{
		channels: []string{"email", "slack"},
		results: []delivery.Result{
			{Channel: "email", Status: delivery.StatusFailed, Err: errors.New("smtp down")},
			{Channel: "slack", Status: delivery.StatusFailed, Err: errors.New("webhook gone")},
		},
	}

	runner := newTestRunner(&mockFetcher{stories: threeStories()}, &mockExtractor{}, newMockSummarizer(), dispatcher, Config{Stories: 3, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", report.Status)
	}
}

func TestRun_RetriesTransientSummarization(t *testing.T) {
	sum := newMockSummarizer()
	sum.failures[1] = []summarizer.Summary{
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "rate limited", Retryable: true},
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "rate limited", Retryable: true},
	}
	dispatcher := twoChannelSuccess(1)

	stories := threeStories()[:1]
	runner := newTestRunner(&mockFetcher{stories: stories}, &mockExtractor{}, sum, dispatcher, Config{Stories: 1, Workers: 1})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success after retries, got %s", report.Status)
	}
	if sum.calls[1] != 3 {
		t.Errorf("expected 3 summarize attempts, got %d", sum.calls[1])
	}
	if report.StoriesDegraded != 0 {
		t.Errorf("expected no degraded stories, got %d", report.StoriesDegraded)
	}
}

func TestRun_SummarizationRetriesExhausted(t *testing.T) {
	sum := newMockSummarizer()
	sum.failures[1] = []summarizer.Summary{
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "rate limited", Retryable: true},
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "rate limited", Retryable: true},
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "rate limited", Retryable: true},
	}
	dispatcher := twoChannelSuccess(1)

	stories := threeStories()[:1]
	runner := newTestRunner(&mockFetcher{stories: stories}, &mockExtractor{}, sum, dispatcher, Config{Stories: 1, Workers: 1})
	report := runner.Run(context.Background())

	if sum.calls[1] != summarizeRetries+1 {
		t.Errorf("expected %d attempts, got %d", summarizeRetries+1, sum.calls[1])
	}
	if report.StoriesDegraded != 1 {
		t.Errorf("expected the story to be degraded, got %d", report.StoriesDegraded)
	}
	if !dispatcher.got[0].Degraded() {
		t.Error("expected degraded item to be dispatched with the placeholder")
	}
}

func TestRun_PermanentSummaryFailureNotRetried(t *testing.T) {
	sum := newMockSummarizer()
	sum.failures[1] = []summarizer.Summary{
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "invalid request", Retryable: false},
	}
	dispatcher := twoChannelSuccess(1)

	stories := threeStories()[:1]
	runner := newTestRunner(&mockFetcher{stories: stories}, &mockExtractor{}, sum, dispatcher, Config{Stories: 1, Workers: 1})
	report := runner.Run(context.Background())

	if sum.calls[1] != 1 {
		t.Errorf("expected a single attempt for a permanent failure, got %d", sum.calls[1])
	}
	if report.StoriesDegraded != 1 {
		t.Errorf("expected the story to be degraded, got %d", report.StoriesDegraded)
	}
}

func TestRun_CanceledContextStopsRetries(t *testing.T) {
	sum := newMockSummarizer()
	sum.failures[1] = []summarizer.Summary{
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "timeout", Retryable: true},
		{StoryID: 1, Status: summarizer.StatusFailed, Reason: "timeout", Retryable: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stories := threeStories()[:1]
	runner := newTestRunner(&mockFetcher{stories: stories}, &mockExtractor{}, sum, twoChannelSuccess(1), Config{Stories: 1, Workers: 1})
	runner.Run(ctx)

	if sum.calls[1] != 1 {
		t.Errorf("expected no retries after cancellation, got %d attempts", sum.calls[1])
	}
}

func TestRun_PreservesOrderWithWorkers(t *testing.T) {
	stories := []hn.Story{
		{ID: 1, Title: "One", URL: "http://one.com"},
		{ID: 2, Title: "Two", URL: "http://two.com"},
		{ID: 3, Title: "Three", URL: "http://three.com"},
		{ID: 4, Title: "Four", URL: "http://four.com"},
		{ID: 5, Title: "Five", URL: "http://five.com"},
	}
	// Make earlier stories finish last.
	ext := &mockExtractor{delays: map[int64]time.Duration{
		1: 40 * time.Millisecond,
		2: 20 * time.Millisecond,
	}}
	dispatcher := twoChannelSuccess(5)

	runner := newTestRunner(&mockFetcher{stories: stories}, ext, newMockSummarizer(), dispatcher, Config{Stories: 5, Workers: 3})
	report := runner.Run(context.Background())

	if report.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", report.Status)
	}
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if dispatcher.got[i].Story.ID != want {
			t.Fatalf("item %d: expected story %d, got %d", i, want, dispatcher.got[i].Story.ID)
		}
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []delivery.Status
		want     Status
	}{
		{"no results", nil, StatusFailed},
		{"all success", []delivery.Status{delivery.StatusSuccess, delivery.StatusSuccess}, StatusSuccess},
		{"all failed", []delivery.Status{delivery.StatusFailed, delivery.StatusFailed}, StatusFailed},
		{"mixed", []delivery.Status{delivery.StatusSuccess, delivery.StatusFailed}, StatusPartial},
		{"single partial", []delivery.Status{delivery.StatusPartial}, StatusPartial},
		{"partial and failed", []delivery.Status{delivery.StatusPartial, delivery.StatusFailed}, StatusPartial},
	}

	for _, tt := range tests {
		results := make([]delivery.Result, len(tt.statuses))
		for i, s := range tt.statuses {
			results[i] = delivery.Result{Status: s}
		}
		if got := aggregate(results); got != tt.want {
			t.Errorf("%s: aggregate = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestStatus_ExitCode(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusSuccess, 0},
		{StatusPartial, 1},
		{StatusFailed, 2},
	}

	for _, tt := range tests {
		if got := tt.status.ExitCode(); got != tt.want {
			t.Errorf("ExitCode(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}
