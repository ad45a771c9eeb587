// Package triageengine implements the per-message state machine: classify,
// route, forward, autorespond, mark read, and log — exactly once per
// message, with no message silently lost even when a stage fails.
package triageengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/apex-triage/internal/autoresponder"
	"github.com/ignite/apex-triage/internal/classifier"
	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/loopguard"
	"github.com/ignite/apex-triage/internal/mailgateway"
	"github.com/ignite/apex-triage/internal/pkg/logger"
	"github.com/ignite/apex-triage/internal/router"
	"github.com/ignite/apex-triage/internal/service/logstore"
)

// autoresponseJoinTimeout bounds how long a terminal state waits on the
// concurrently-dispatched autoresponse task before recording it as pending
// (spec.md §4.8/§5).
const autoresponseJoinTimeout = 10 * time.Second

// Gateway is the subset of the mail gateway the engine drives.
type Gateway interface {
	MarkRead(ctx context.Context, mailbox, messageID string) error
	Forward(ctx context.Context, mailbox, messageID, originalSender string, to, cc []string) (mailgateway.ForwardResult, error)
}

// Classifier is the subset of the classification pipeline the engine needs.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (*domain.Classification, error)
}

// RetryEnqueuer accepts a (mailbox, provider_id) pair whose forward
// succeeded but whose mark-read did not, for the batch loop's periodic
// retry sweep (spec.md §4.9, invariant I3).
type RetryEnqueuer interface {
	Add(mailbox, providerID string)
}

// AutorespondFunc matches autoresponder.Respond's signature once cfg and
// its collaborators are bound; injected as a closure so the engine itself
// does not need to know about the template store.
type AutorespondFunc func(ctx context.Context, msg domain.Message) autoresponder.Result

// Engine wires together the classifier, router, loop guard, autoresponder,
// mail gateway and log store into the message processing state machine.
type Engine struct {
	cfg         config.Config
	gateway     Gateway
	classify    Classifier
	autorespond AutorespondFunc
	logs        logstore.Repository
	retries     RetryEnqueuer
}

// New builds an Engine. retries may be nil, in which case a mark-read
// failure is recorded on the log row but never retried.
func New(cfg config.Config, gateway Gateway, classify Classifier, autorespond AutorespondFunc, logs logstore.Repository, retries RetryEnqueuer) *Engine {
	return &Engine{cfg: cfg, gateway: gateway, classify: classify, autorespond: autorespond, logs: logs, retries: retries}
}

// Process runs one message through the full pipeline. It never returns an
// error for an expected business outcome (loop-guard skip, classifier
// failure, delivery failure) — those are recorded in the log row's status
// fields instead. Process only returns an error when the duplicate check
// or an audit write (the skipped row or the log row) fails. The message is
// marked read before its log row is written.
func (e *Engine) Process(ctx context.Context, mailbox string, msg domain.Message) error {
	start := time.Now()

	// mlog is the explicit per-message logging context (spec.md §9) that
	// replaces an ambient "current email" handle. It is flushed in a defer
	// so a SystemLogRow exists even when the LogRow insert below fails.
	mlog := newMessageLog(msg.ProviderID, msg.InternetMessageID, msg.Subject)
	var finalAutoResult autoresponder.Result
	defer func() { mlog.flush(ctx, e.logs, finalAutoResult) }()

	if msg.IsBounce {
		_, originalRecipient := loopguard.ExtractBounceOriginalAddresses(bodyOf(msg), msg.Subject)
		if originalRecipient != "" {
			msg.OriginalRecipient = originalRecipient
			msg.To = originalRecipient
		}
	}

	already, err := e.logs.IsProcessed(ctx, msg.InternetMessageID)
	if err != nil {
		return fmt.Errorf("triageengine: check processed: %w", err)
	}
	if already {
		mlog.info("dedupe", "internet_message_id already processed, skipping")
		return e.logs.InsertSkipped(ctx, domain.SkippedRow{
			InternetMessageID: msg.InternetMessageID,
			Subject:           msg.Subject,
			From:              msg.From,
			To:                msg.To,
			SkipType:          domain.SkipTypeDuplicate,
			SkipReason:        "internet_message_id already processed",
			ProcessingTime:    time.Since(start),
			OccurredAt:        time.Now(),
		})
	}

	if loopguard.IsExchangeSystemSender(e.cfg.LoopGuard, msg.From) {
		mlog.info("loopguard", "sender matches an Exchange system address pattern, skipping classification")
		if err := e.gateway.MarkRead(ctx, mailbox, msg.ProviderID); err != nil {
			mlog.warn("mark_read", "mark read failed for exchange-system message: "+err.Error())
			logger.Error("mark read failed for exchange-system message", "internet_message_id", msg.InternetMessageID, "error", err.Error())
		}
		return e.logs.InsertSkipped(ctx, domain.SkippedRow{
			InternetMessageID: msg.InternetMessageID,
			Subject:           msg.Subject,
			From:              msg.From,
			To:                msg.To,
			SkipType:          domain.SkipTypeExchangeSystem,
			SkipReason:        "sender matches an Exchange system address pattern",
			ProcessingTime:    time.Since(start),
			OccurredAt:        time.Now(),
		})
	}

	// The autoresponse task is the one deliberate parallel fork (spec.md
	// §5): it runs concurrently with classification and forwarding below,
	// and is joined with a bounded wait wherever this function returns.
	autoCh := make(chan autoresponder.Result, 1)
	dispatchedAt := time.Now()
	go func() {
		autoCh <- e.autorespond(ctx, msg)
	}()

	row := domain.LogRow{
		InternetMessageID: msg.InternetMessageID,
		ReceivedAt:        msg.ReceivedAt,
		ProcessedAt:       start,
		From:              msg.From,
		To:                msg.To,
		CC:                msg.CC,
		Subject:           msg.Subject,
		Body:              bodyOf(msg),
	}

	classification, classifyErr := e.classify.Classify(ctx, msg.Subject, bodyOf(msg))

	consolidationBin := mailbox
	var destination string
	classificationFailed := classifyErr != nil
	if classificationFailed {
		mlog.error("classify", "classification failed, falling back to original recipient: "+classifyErr.Error())
		row.ClassificationStatus = domain.StatusError
		row.Category = string(domain.CategoryOther)
		destination = fallbackDestination(msg.To, consolidationBin, e.cfg.Routing.PolicyServices)
	} else {
		row.ClassificationStatus = domain.StatusSuccess
		row.Category = string(classification.Category)
		row.Reason = classification.Reason
		row.ActionRequired = classification.ActionRequired
		row.Sentiment = string(classification.Sentiment)
		row.CostUSD = classification.CostUSD
		row.RegionUsed = string(classification.RegionUsed)
		row.PrimaryModelTokens = classification.PrimaryModel
		row.CheapModelTokens = classification.CheapModel
		for _, c := range classification.TopCategories {
			row.TopCategories = append(row.TopCategories, string(c))
		}
		destination = router.Route(e.cfg.Routing, classification.Category)
		if strings.EqualFold(strings.TrimSpace(destination), strings.TrimSpace(consolidationBin)) {
			destination = e.cfg.Routing.PolicyServices
		}
	}
	row.RoutedTo = destination
	row.ComputeIntervention(msg.To)
	if classificationFailed {
		// A fallback to the original `to` is never an AI decision.
		row.Intervention = false
	}

	fwdResult, fwdErr := e.gateway.Forward(ctx, mailbox, msg.ProviderID, msg.From, []string{destination}, ccList(msg.CC, e.cfg.Mail.CCExclusionList))

	delivered := false
	switch {
	case fwdErr != nil && classificationFailed:
		// The single forward attempt on the classifier-error path already
		// targeted the original `to`; there is no further fallback below
		// it — only LOG_DELIVERY_FAILED remains.
		row.RoutingStatus = domain.StatusError
		row.RoutedTo = domain.DeliveryFailedMailbox
		mlog.error("forward", "forward failed on classifier-error path: "+fwdErr.Error())
		logger.Error("forward failed on classifier-error path", "internet_message_id", msg.InternetMessageID, "error", fwdErr.Error())

	case fwdErr != nil:
		mlog.warn("forward", "primary forward failed, attempting fallback routing: "+fwdErr.Error())
		logger.Warn("primary forward failed, attempting fallback routing", "internet_message_id", msg.InternetMessageID, "error", fwdErr.Error())
		fallbackTo := fallbackDestination(msg.To, consolidationBin, e.cfg.Routing.PolicyServices)
		fbResult, fbErr := e.gateway.Forward(ctx, mailbox, msg.ProviderID, msg.From, []string{fallbackTo}, ccList(msg.CC, e.cfg.Mail.CCExclusionList))
		row.Intervention = false
		switch {
		case fbErr != nil:
			row.RoutingStatus = domain.StatusError
			row.RoutedTo = domain.DeliveryFailedMailbox
			mlog.error("forward", "fallback forward also failed: "+fbErr.Error())
			logger.Error("fallback forward also failed", "internet_message_id", msg.InternetMessageID, "error", fbErr.Error())
		case fbResult.Deferred:
			row.RoutingStatus = domain.StatusError
			row.SkipReason = "attachment scan in progress, deferred to next cycle"
			mlog.warn("forward", "fallback forward deferred: attachment scan in progress")
		default:
			// Fallback routing succeeded, but the routing outcome is still
			// recorded as an error: the AI-chosen destination never
			// received the message.
			row.RoutingStatus = domain.StatusError
			row.RoutedTo = fallbackTo + " (fallback routing)"
			delivered = true
			mlog.warn("forward", "primary forward failed, delivered via fallback routing to "+fallbackTo)
		}

	case fwdResult.Deferred:
		row.RoutingStatus = domain.StatusError
		row.SkipReason = "attachment scan in progress, deferred to next cycle"
		mlog.info("forward", "forward deferred: attachment scan in progress")

	default:
		row.RoutingStatus = domain.StatusSuccess
		delivered = true
	}

	autoResult := e.joinAutoresponse(autoCh, dispatchedAt)
	finalAutoResult = autoResult
	switch {
	case !autoResult.Attempted:
		row.AutoresponseStatus = domain.AutoresponseNotAttempted
		row.SkipReason = firstNonEmpty(row.SkipReason, autoResult.SkipReason)
	case autoResult.Pending:
		row.AutoresponseStatus = domain.AutoresponsePending
	case autoResult.Successful:
		row.AutoresponseStatus = domain.AutoresponseSuccess
	default:
		row.AutoresponseStatus = domain.AutoresponseFailed
	}

	if delivered {
		if err := e.gateway.MarkRead(ctx, mailbox, msg.ProviderID); err != nil {
			row.ReadStatus = domain.StatusError
			mlog.error("mark_read", "mark read failed, enqueued for retry: "+err.Error())
			logger.Error("mark read failed", "internet_message_id", msg.InternetMessageID, "error", err.Error())
			if e.retries != nil {
				e.retries.Add(mailbox, msg.ProviderID)
			}
		} else {
			row.ReadStatus = domain.StatusSuccess
		}
	} else {
		row.ReadStatus = domain.StatusError
	}

	row.EndAt = time.Now()
	row.TurnaroundSeconds = row.EndAt.Sub(row.ProcessedAt).Seconds()

	if err := e.logs.InsertLog(ctx, row); err != nil {
		return fmt.Errorf("triageengine: insert log: %w", err)
	}
	return nil
}

// joinAutoresponse waits up to autoresponseJoinTimeout (measured from
// dispatch, not from the call to join) for the concurrently-running
// autoresponse task to finish. If it has not finished in time, the task is
// left running and the result is reported as pending.
func (e *Engine) joinAutoresponse(autoCh <-chan autoresponder.Result, dispatchedAt time.Time) autoresponder.Result {
	remaining := autoresponseJoinTimeout - time.Since(dispatchedAt)
	if remaining <= 0 {
		select {
		case r := <-autoCh:
			return r
		default:
			return autoresponder.Result{Attempted: true, Pending: true}
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case r := <-autoCh:
		return r
	case <-timer.C:
		return autoresponder.Result{Attempted: true, Pending: true}
	}
}

// fallbackDestination implements the consolidation-bin override shared by
// every fallback path (spec.md §4.4, §4.8): routing to the original `to`
// except when that would be the consolidation bin itself, which is
// rewritten to the configured Policy Services catch-all.
func fallbackDestination(to, consolidationBin, policyServices string) string {
	if strings.EqualFold(strings.TrimSpace(to), strings.TrimSpace(consolidationBin)) {
		return policyServices
	}
	return to
}

func bodyOf(msg domain.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.BodyHTML
}

func ccList(cc string, excluded []string) []string {
	if cc == "" {
		return nil
	}
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		excludedSet[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	var out []string
	for _, addr := range strings.Split(cc, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, skip := excludedSet[strings.ToLower(addr)]; skip {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

var _ Classifier = (*classifier.Pipeline)(nil)
