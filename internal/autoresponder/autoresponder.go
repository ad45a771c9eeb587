// Package autoresponder sends the templated acknowledgement reply once the
// loop guard has cleared a message, pulling the rendered template from the
// template store and sending it through the mail gateway.
package autoresponder

import (
	"context"
	"fmt"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/loopguard"
	"github.com/ignite/apex-triage/internal/templatestore"
)

// Sender is the subset of the mail gateway the autoresponder needs.
type Sender interface {
	Send(ctx context.Context, from string, to []string, subject, htmlBody string) error
}

// TemplateResolver is the subset of the template store the autoresponder
// needs.
type TemplateResolver interface {
	Resolve(ctx context.Context, mail config.MailConfig, recipient, internetMessageID string) (templatestore.Resolved, error)
}

// Result records what the autoresponder actually did, for the log row.
type Result struct {
	Attempted      bool
	Successful     bool
	Pending        bool
	SkipReason     string
	TemplateFolder string
	SubjectLine    string
	ErrorMessage   string
}

// Respond evaluates the loop guard and, if it clears, resolves and sends
// the autoresponse. It never returns an error for a guard-triggered skip —
// that is an expected outcome, not a failure.
func Respond(ctx context.Context, cfg config.Config, sender Sender, templates TemplateResolver, msg domain.Message) Result {
	decision := loopguard.Evaluate(cfg.LoopGuard, cfg.Mail.Accounts, msg.To, msg.From, msg.Subject, bodyOf(msg))
	if decision.Skip {
		return Result{Attempted: false, SkipReason: decision.Reason}
	}

	resolved, err := templates.Resolve(ctx, cfg.Mail, msg.To, msg.InternetMessageID)
	if err != nil {
		return Result{Attempted: true, Successful: false, ErrorMessage: fmt.Sprintf("template resolve: %v", err)}
	}

	if err := sender.Send(ctx, msg.To, []string{msg.From}, resolved.Subject, resolved.HTML); err != nil {
		return Result{
			Attempted: true, Successful: false,
			TemplateFolder: resolved.Folder, SubjectLine: resolved.Subject,
			ErrorMessage: fmt.Sprintf("send: %v", err),
		}
	}

	return Result{
		Attempted: true, Successful: true,
		TemplateFolder: resolved.Folder, SubjectLine: resolved.Subject,
	}
}

func bodyOf(msg domain.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.BodyHTML
}
