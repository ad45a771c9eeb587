// Package batch runs the ticker-driven polling loop: fetch unread messages
// from each configured mailbox, dispatch them in fixed-size groups, sweep
// the read-retry set periodically, and contain any single message's
// failure so it never takes down the loop.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/pkg/distlock"
	"github.com/ignite/apex-triage/internal/pkg/logger"
	"github.com/ignite/apex-triage/internal/service/logstore"
)

// Fetcher is the subset of the mail gateway the loop needs to list unread
// messages for a mailbox.
type Fetcher interface {
	FetchUnread(ctx context.Context, mailbox string) ([]domain.Message, error)
}

// MarkReader retries marking a message read, used by the read-retry sweep.
type MarkReader interface {
	MarkRead(ctx context.Context, mailbox, messageID string) error
}

// Processor handles one message end to end.
type Processor interface {
	Process(ctx context.Context, mailbox string, msg domain.Message) error
}

// RetrySet tracks provider IDs that were processed but could not be marked
// read, so the loop can retry them independently of fetching new mail.
type RetrySet interface {
	Add(mailbox, providerID string)
	Remove(mailbox, providerID string)
	Snapshot() map[string][]string
}

// Loop drives the batch cycle described by spec.md §4.9: fetch, dispatch in
// groups, sleep to the target interval (not a flat sleep), and sweep the
// retry set every N loops.
type Loop struct {
	cfg       config.BatchConfig
	mail      config.MailConfig
	fetcher   Fetcher
	marker    MarkReader
	processor Processor
	logs      logstore.Repository
	retries   RetrySet
	lock      distlock.DistLock // nil when leader election is not configured

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Loop. lock may be nil to run without leader election (the
// default, single-replica deployment).
func New(cfg config.BatchConfig, mail config.MailConfig, fetcher Fetcher, marker MarkReader, processor Processor, logs logstore.Repository, retries RetrySet, lock distlock.DistLock) *Loop {
	return &Loop{
		cfg: cfg, mail: mail, fetcher: fetcher, marker: marker, processor: processor,
		logs: logs, retries: retries, lock: lock, stopCh: make(chan struct{}),
	}
}

// Start launches the polling loop in a background goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("batch: loop already running")
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	loopCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		cycleStart := time.Now()

		if l.lock != nil {
			acquired, err := l.lock.Acquire(ctx)
			if err != nil {
				logger.Error("leader lock acquire failed", "error", err.Error())
			} else if !acquired {
				l.sleepRemainder(ctx, cycleStart)
				continue
			}
		}

		l.processAllMailboxes(ctx)

		loopCount++
		if loopCount >= l.cfg.RetrySweepEveryLoops {
			l.retryUnreadEmails(ctx)
			loopCount = 0
		}

		if l.lock != nil {
			if err := l.lock.Release(ctx); err != nil {
				logger.Error("leader lock release failed", "error", err.Error())
			}
		}

		if !l.sleepRemainder(ctx, cycleStart) {
			return
		}
	}
}

// sleepRemainder sleeps only what's left of the configured interval since
// cycleStart, so a cycle that ran long starts the next one immediately
// rather than compounding delay. Returns false if the loop should stop.
func (l *Loop) sleepRemainder(ctx context.Context, cycleStart time.Time) bool {
	elapsed := time.Since(cycleStart)
	remaining := l.cfg.FetchInterval() - elapsed
	if remaining <= 0 {
		return true
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-l.stopCh:
		return false
	}
}

func (l *Loop) processAllMailboxes(ctx context.Context) {
	for _, mailbox := range l.mail.Accounts {
		messages, err := l.fetcher.FetchUnread(ctx, mailbox)
		if err != nil {
			logger.Error("fetch unread failed", "mailbox", mailbox, "error", err.Error())
			continue
		}

		groupSize := l.cfg.GroupSize
		if groupSize <= 0 {
			groupSize = 1
		}
		for i := 0; i < len(messages); i += groupSize {
			end := i + groupSize
			if end > len(messages) {
				end = len(messages)
			}
			l.dispatchGroup(ctx, mailbox, messages[i:end])
		}
	}
}

// dispatchGroup processes a group of messages concurrently, recovering any
// panic from an individual message's goroutine so the rest of the group —
// and the loop itself — keep running. A recovered panic still leaves an
// audit trail via an emergency system log row.
func (l *Loop) dispatchGroup(ctx context.Context, mailbox string, group []domain.Message) {
	var wg sync.WaitGroup
	for _, msg := range group {
		wg.Add(1)
		go func(msg domain.Message) {
			defer wg.Done()
			defer l.recoverAndLog(ctx, msg)

			if err := l.processor.Process(ctx, mailbox, msg); err != nil {
				logger.Error("process message failed", "internet_message_id", msg.InternetMessageID, "error", err.Error())
				l.retries.Add(mailbox, msg.ProviderID)
			}
		}(msg)
	}
	wg.Wait()
}

func (l *Loop) recoverAndLog(ctx context.Context, msg domain.Message) {
	if r := recover(); r != nil {
		logger.Error("message processing panicked", "internet_message_id", msg.InternetMessageID, "panic", fmt.Sprintf("%v", r))
		now := time.Now()
		_ = l.logs.InsertSystemLog(ctx, domain.SystemLogRow{
			EmailID:           msg.ProviderID,
			InternetMessageID: msg.InternetMessageID,
			Subject:           msg.Subject,
			StartedAt:         now,
			EndedAt:           now,
			ErrorCount:        1,
			Entries: []domain.SystemLogEntry{{
				Timestamp: now, Level: "CRITICAL", Category: "panic",
				Message: fmt.Sprintf("recovered panic: %v", r),
			}},
		})
	}
}

// retryUnreadEmails attempts to mark read every message in the retry set,
// removing each success so the set only ever grows with genuine failures.
func (l *Loop) retryUnreadEmails(ctx context.Context) {
	for mailbox, ids := range l.retries.Snapshot() {
		for _, id := range ids {
			if err := l.marker.MarkRead(ctx, mailbox, id); err != nil {
				logger.Warn("retry mark read failed", "mailbox", mailbox, "provider_id", id, "error", err.Error())
				continue
			}
			l.retries.Remove(mailbox, id)
		}
	}
}
