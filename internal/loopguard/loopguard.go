// Package loopguard decides whether an autoresponse should be suppressed,
// so the engine never replies to a system mailbox, a bounce, or its own
// previous autoresponse and causes a mail loop.
package loopguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/apex-triage/internal/config"
)

var exchangeSystemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^microsoftexchange[a-f0-9]+@`),
	regexp.MustCompile(`(?i)^exchange[a-f0-9]+@`),
	regexp.MustCompile(`(?i)^[a-f0-9]{32}@`),
}

// systemIndicators mirrors should_skip_autoresponse's system_indicators list
// verbatim (autoresponse.py rule 7).
var systemIndicators = []string{
	"noreply", "no-reply", "donotreply", "do-not-reply",
	"mailer-daemon", "postmaster", "daemon", "mail-daemon",
	"microsoftexchange", "exchange", "outlook-com",
	"auto-reply", "autoreply", "bounce", "delivery",
	"system", "noresponse", "no-response",
}

// bounceSubjectIndicators mirrors bounce_subject_indicators verbatim
// (autoresponse.py rule 8).
var bounceSubjectIndicators = []string{
	"undeliverable", "undelivered", "delivery status notification",
	"delivery failure", "mail delivery failed", "returned mail",
	"bounce notification", "message not delivered", "delivery report",
	"non-delivery report", "ndr", "mail delivery subsystem",
	"postmaster notification", "auto-reply", "automatic reply",
	"out of office", "mailbox full", "user unknown",
	"address not found", "relay access denied", "message blocked",
	"delivery incomplete", "message rejected", "smtp error",
}

// bounceSubjectPrefixes mirrors bounce_prefixes: subjects starting with one
// of these are bounces even if no full indicator substring matched.
var bounceSubjectPrefixes = []string{
	"undeliverable:", "delivery failure:", "returned mail:", "ndr:",
}

// bounceBodyIndicators mirrors bounce_body_indicators verbatim
// (autoresponse.py rule 9).
var bounceBodyIndicators = []string{
	"rejected your message", "message could not be delivered",
	"recipient mailbox is full", "user is over quota",
	"address not found", "user unknown", "mailbox unavailable",
	"delivery failed", "permanent failure", "temporary failure",
	"bounce message", "non-delivery report", "postmaster",
	"mail delivery subsystem", "delivery status notification",
	"smtp error", "relay access denied", "message blocked",
	"mailbox does not exist", "invalid recipient",
}

// priorAutoresponseIndicators mirrors autoresponse_indicators verbatim
// (autoresponse.py rule 10).
var priorAutoresponseIndicators = []string{
	"thank you for contacting us", "auto response", "automatic response",
	"we have received your email", "automated reply", "auto-reply",
}

// Decision reports whether an autoresponse should be skipped, and why.
type Decision struct {
	Skip   bool
	Reason string
}

// allow returns a non-skip decision; named for readability at call sites.
func allow() Decision { return Decision{} }

func skip(reason string) Decision { return Decision{Skip: true, Reason: reason} }

// Evaluate runs the ordered suppression rules against one message. Order
// matters: earlier rules are cheaper and more certain, so they run first.
func Evaluate(cfg config.LoopGuardConfig, accounts []string, recipient, sender, subject, body string) Decision {
	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)

	if len(sender) < 5 {
		return skip("sender address missing or too short")
	}
	if len(recipient) < 5 {
		return skip("recipient address missing or too short")
	}
	for _, acct := range accounts {
		if strings.EqualFold(recipient, acct) {
			return skip("recipient is one of our own mailboxes")
		}
	}
	for _, acct := range accounts {
		if strings.EqualFold(sender, acct) {
			return skip("sender is one of our own mailboxes")
		}
	}
	for _, re := range exchangeSystemPatterns {
		if re.MatchString(sender) {
			return skip("sender matches an Exchange system address pattern")
		}
	}
	lowerSender := strings.ToLower(sender)
	if cfg.CorporateDomain != "" && strings.Contains(lowerSender, "microsoftexchange") && strings.Contains(lowerSender, strings.ToLower(cfg.CorporateDomain)) {
		return skip("sender is an internal Exchange system address on the corporate domain")
	}
	for _, ind := range systemIndicators {
		if strings.Contains(lowerSender, ind) {
			return skip(fmt.Sprintf("system/automated sender detected (contains %q)", ind))
		}
	}
	lowerSubject := strings.ToLower(strings.TrimSpace(subject))
	for _, ind := range bounceSubjectIndicators {
		if strings.Contains(lowerSubject, ind) {
			return skip(fmt.Sprintf("bounce/error message detected in subject (contains %q)", ind))
		}
	}
	for _, prefix := range bounceSubjectPrefixes {
		if strings.HasPrefix(lowerSubject, prefix) {
			return skip(fmt.Sprintf("bounce message detected by subject prefix (starts with %q)", prefix))
		}
	}
	lowerBody := strings.ToLower(strings.TrimSpace(body))
	for _, ind := range bounceBodyIndicators {
		if strings.Contains(lowerBody, ind) {
			return skip(fmt.Sprintf("bounce/error message detected in body (contains %q)", ind))
		}
	}
	for _, ind := range priorAutoresponseIndicators {
		if strings.Contains(lowerSubject, ind) {
			return skip(fmt.Sprintf("potential autoresponse loop detected in subject (contains %q)", ind))
		}
	}
	senderDomain := domainOf(sender)
	recipientDomain := domainOf(recipient)
	if senderDomain != "" && senderDomain == recipientDomain {
		for _, ind := range []string{"exchange", "system", "daemon", "admin"} {
			if strings.Contains(lowerSender, ind) {
				return skip("same-domain system sender")
			}
		}
	}
	return allow()
}

// IsExchangeSystemSender reports whether sender looks like a Microsoft
// Exchange system mailbox (rules 4-5 of Evaluate). The engine uses this on
// its own, ahead of classification, to skip these messages entirely rather
// than spend an LLM call and a forward on mail that never had a human
// author.
func IsExchangeSystemSender(cfg config.LoopGuardConfig, sender string) bool {
	sender = strings.TrimSpace(sender)
	for _, re := range exchangeSystemPatterns {
		if re.MatchString(sender) {
			return true
		}
	}
	lowerSender := strings.ToLower(sender)
	return cfg.CorporateDomain != "" &&
		strings.Contains(lowerSender, "microsoftexchange") &&
		strings.Contains(lowerSender, strings.ToLower(cfg.CorporateDomain))
}

func domainOf(addr string) string {
	_, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}
