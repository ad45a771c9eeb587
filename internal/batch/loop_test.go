package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
)

func TestMemoryRetrySetAddRemoveSnapshot(t *testing.T) {
	s := NewMemoryRetrySet()
	s.Add("claims@insurer.com", "id-1")
	s.Add("claims@insurer.com", "id-2")
	s.Add("tracking@insurer.com", "id-3")

	snap := s.Snapshot()
	assert.ElementsMatch(t, []string{"id-1", "id-2"}, snap["claims@insurer.com"])
	assert.ElementsMatch(t, []string{"id-3"}, snap["tracking@insurer.com"])

	s.Remove("claims@insurer.com", "id-1")
	snap = s.Snapshot()
	assert.ElementsMatch(t, []string{"id-2"}, snap["claims@insurer.com"])
}

type fakeFetcher struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	calls    int
}

func (f *fakeFetcher) FetchUnread(_ context.Context, mailbox string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.messages[mailbox], nil
}

type fakeMarker struct {
	mu         sync.Mutex
	markedIDs  []string
	failFirst  bool
	failedOnce bool
}

func (f *fakeMarker) MarkRead(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst && !f.failedOnce {
		f.failedOnce = true
		return errors.New("transient failure")
	}
	f.markedIDs = append(f.markedIDs, messageID)
	return nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	failIDs   map[string]bool
	panicIDs  map[string]bool
}

func (f *fakeProcessor) Process(_ context.Context, _ string, msg domain.Message) error {
	if f.panicIDs[msg.ProviderID] {
		panic("simulated processing panic")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, msg.ProviderID)
	if f.failIDs[msg.ProviderID] {
		return errors.New("process failed")
	}
	return nil
}

type fakeLogsForBatch struct {
	mu            sync.Mutex
	systemLogs    int
}

func (f *fakeLogsForBatch) IsProcessed(_ context.Context, _ string) (bool, error)    { return false, nil }
func (f *fakeLogsForBatch) InsertLog(_ context.Context, _ domain.LogRow) error       { return nil }
func (f *fakeLogsForBatch) InsertSkipped(_ context.Context, _ domain.SkippedRow) error { return nil }
func (f *fakeLogsForBatch) InsertSystemLog(_ context.Context, _ domain.SystemLogRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemLogs++
	return nil
}

func TestDispatchGroupAddsFailuresToRetrySet(t *testing.T) {
	processor := &fakeProcessor{failIDs: map[string]bool{"msg-2": true}}
	retries := NewMemoryRetrySet()
	loop := New(config.BatchConfig{GroupSize: 2}, config.MailConfig{}, nil, nil, processor, &fakeLogsForBatch{}, retries, nil)

	loop.dispatchGroup(context.Background(), "claims@insurer.com", []domain.Message{
		{ProviderID: "msg-1"}, {ProviderID: "msg-2"},
	})

	snap := retries.Snapshot()
	assert.ElementsMatch(t, []string{"msg-2"}, snap["claims@insurer.com"])
}

func TestDispatchGroupRecoversPanicAndLogsSystemEntry(t *testing.T) {
	processor := &fakeProcessor{panicIDs: map[string]bool{"msg-panic": true}}
	logs := &fakeLogsForBatch{}
	loop := New(config.BatchConfig{GroupSize: 1}, config.MailConfig{}, nil, nil, processor, logs, NewMemoryRetrySet(), nil)

	assert.NotPanics(t, func() {
		loop.dispatchGroup(context.Background(), "claims@insurer.com", []domain.Message{
			{ProviderID: "msg-panic", InternetMessageID: "<panic@insurer.com>"},
		})
	})
	assert.Equal(t, 1, logs.systemLogs)
}

func TestProcessAllMailboxesDispatchesInGroups(t *testing.T) {
	fetcher := &fakeFetcher{messages: map[string][]domain.Message{
		"claims@insurer.com": {
			{ProviderID: "m1"}, {ProviderID: "m2"}, {ProviderID: "m3"},
		},
	}}
	processor := &fakeProcessor{}
	loop := New(config.BatchConfig{GroupSize: 2}, config.MailConfig{Accounts: []string{"claims@insurer.com"}},
		fetcher, nil, processor, &fakeLogsForBatch{}, NewMemoryRetrySet(), nil)

	loop.processAllMailboxes(context.Background())

	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, processor.processed)
}

func TestRetryUnreadEmailsRemovesSucceeded(t *testing.T) {
	retries := NewMemoryRetrySet()
	retries.Add("claims@insurer.com", "m1")
	marker := &fakeMarker{}
	loop := New(config.BatchConfig{}, config.MailConfig{}, nil, marker, nil, &fakeLogsForBatch{}, retries, nil)

	loop.retryUnreadEmails(context.Background())

	assert.Empty(t, retries.Snapshot()["claims@insurer.com"])
	assert.Equal(t, []string{"m1"}, marker.markedIDs)
}

func TestRetryUnreadEmailsKeepsFailuresInSet(t *testing.T) {
	retries := NewMemoryRetrySet()
	retries.Add("claims@insurer.com", "m1")
	marker := &fakeMarker{failFirst: true}
	loop := New(config.BatchConfig{}, config.MailConfig{}, nil, marker, nil, &fakeLogsForBatch{}, retries, nil)

	loop.retryUnreadEmails(context.Background())

	assert.ElementsMatch(t, []string{"m1"}, retries.Snapshot()["claims@insurer.com"])
}

func TestStartStopLifecycle(t *testing.T) {
	fetcher := &fakeFetcher{messages: map[string][]domain.Message{}}
	loop := New(config.BatchConfig{FetchIntervalSeconds: 60, GroupSize: 1}, config.MailConfig{Accounts: []string{"claims@insurer.com"}},
		fetcher, &fakeMarker{}, &fakeProcessor{}, &fakeLogsForBatch{}, NewMemoryRetrySet(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, loop.Start(ctx))
	assert.Error(t, loop.Start(ctx), "starting an already-running loop should fail")

	time.Sleep(20 * time.Millisecond)
	loop.Stop()

	assert.GreaterOrEqual(t, fetcher.calls, 1)
}
