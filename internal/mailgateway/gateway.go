// Package mailgateway talks to the consolidation bin mailbox through a
// Microsoft-Graph-style REST mail API: fetching unread messages, marking
// them read, forwarding them to department mailboxes, and sending
// autoresponses.
package mailgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/loopguard"
	"github.com/ignite/apex-triage/internal/pkg/httpretry"
	"github.com/ignite/apex-triage/internal/pkg/logger"
)

// Gateway is the sole collaborator that issues requests against the
// provider mail API. It owns OAuth2 token acquisition and wraps every call
// in the same retry/backoff policy the rest of this codebase uses for
// external HTTP calls.
type Gateway struct {
	cfg    config.GraphConfig
	client *httpretry.RetryClient
	tokens *clientcredentials.Config
}

// New builds a Gateway from Graph configuration. The client-credentials
// token source refreshes automatically; callers never see a token directly.
func New(cfg config.GraphConfig) *Gateway {
	tokens := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       cfg.Scopes(),
	}
	return &Gateway{
		cfg:    cfg,
		client: httpretry.NewRetryClient(nil, 3),
		tokens: tokens,
	}
}

type graphMessage struct {
	ID                string        `json:"id"`
	InternetMessageID string        `json:"internetMessageId"`
	Subject           string        `json:"subject"`
	From              graphAddress  `json:"from"`
	ToRecipients      []graphRecip  `json:"toRecipients"`
	CcRecipients      []graphRecip  `json:"ccRecipients"`
	ReceivedDateTime  time.Time     `json:"receivedDateTime"`
	Body              graphBody     `json:"body"`
	HasAttachments    bool          `json:"hasAttachments"`
}

type graphAddress struct {
	EmailAddress graphEmailAddr `json:"emailAddress"`
}

type graphRecip struct {
	EmailAddress graphEmailAddr `json:"emailAddress"`
}

type graphEmailAddr struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type graphBody struct {
	ContentType string `json:"contentType"` // "html" or "text"
	Content     string `json:"content"`
}

type graphListResponse struct {
	Value []graphMessage `json:"value"`
}

type graphAttachment struct {
	Name string `json:"name"`
}

type graphAttachmentListResponse struct {
	Value []graphAttachment `json:"value"`
}

// FetchUnread lists unread messages in the given mailbox, across all of
// its folders (the query is not limited to the Inbox).
func (g *Gateway) FetchUnread(ctx context.Context, mailbox string) ([]domain.Message, error) {
	url := fmt.Sprintf("%s/users/%s/messages?$filter=isRead eq false", g.cfg.BaseURL, mailbox)

	resp, err := g.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mailgateway: fetch unread for %s: %w", mailbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailgateway: fetch unread for %s: unexpected status %d", mailbox, resp.StatusCode)
	}

	var list graphListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("mailgateway: decode unread list: %w", err)
	}

	out := make([]domain.Message, 0, len(list.Value))
	for _, m := range list.Value {
		out = append(out, toDomainMessage(m))
	}
	return out, nil
}

func toDomainMessage(m graphMessage) domain.Message {
	to := make([]string, 0, len(m.ToRecipients))
	for _, r := range m.ToRecipients {
		to = append(to, r.EmailAddress.Address)
	}
	cc := make([]string, 0, len(m.CcRecipients))
	for _, r := range m.CcRecipients {
		cc = append(cc, r.EmailAddress.Address)
	}

	msg := domain.Message{
		ProviderID:        m.ID,
		InternetMessageID: m.InternetMessageID,
		Subject:           m.Subject,
		From:              m.From.EmailAddress.Address,
		To:                strings.Join(to, ","),
		CC:                strings.Join(cc, ","),
		ReceivedAt:        m.ReceivedDateTime,
		HasAttachments:    m.HasAttachments,
	}
	if strings.EqualFold(m.Body.ContentType, "html") {
		msg.BodyHTML = m.Body.Content
	} else {
		msg.BodyText = m.Body.Content
	}
	msg.IsBounce = loopguard.IsBounceOrSystemMessage(msg.From, msg.Subject, bodyText(msg))
	return msg
}

func bodyText(msg domain.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.BodyHTML
}

// MarkRead sets isRead=true on a single message. Per the provider's own
// semantics this is not retried on 403/404 — the message is gone or the
// caller lacks access, and retrying wastes a backoff cycle on a call that
// can never succeed.
func (g *Gateway) MarkRead(ctx context.Context, mailbox, messageID string) error {
	url := fmt.Sprintf("%s/users/%s/messages/%s", g.cfg.BaseURL, mailbox, messageID)
	body, _ := json.Marshal(map[string]bool{"isRead": true})

	resp, err := g.do(ctx, http.MethodPatch, url, body)
	if err != nil {
		return fmt.Errorf("mailgateway: mark read %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("mailgateway: mark read %s: non-retryable status %d", messageID, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("mailgateway: mark read %s: unexpected status %d", messageID, resp.StatusCode)
	}
	return nil
}

// ForwardResult reports what Forward actually did, including the rare case
// where attachments are mid-scan and forwarding had to be deferred.
type ForwardResult struct {
	Deferred bool // attachments still being scanned; try again next cycle
}

// Forward recreates the original message's attach-and-forward sequence:
// fetch the message, check for an in-progress attachment scan, create a
// forward draft, set recipients and reply-to, then send it. replyTo is set
// to originalSender so replies from the destination mailbox reach the
// customer rather than the consolidation bin.
func (g *Gateway) Forward(ctx context.Context, mailbox, messageID, originalSender string, to, cc []string) (ForwardResult, error) {
	getURL := fmt.Sprintf("%s/users/%s/messages/%s", g.cfg.BaseURL, mailbox, messageID)
	getResp, err := g.do(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: forward get %s: %w", messageID, err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode == http.StatusNotFound {
		return ForwardResult{}, fmt.Errorf("mailgateway: forward get %s: message gone (404)", messageID)
	}
	if getResp.StatusCode != http.StatusOK {
		return ForwardResult{}, fmt.Errorf("mailgateway: forward get %s: unexpected status %d", messageID, getResp.StatusCode)
	}

	var original graphMessage
	if err := json.NewDecoder(getResp.Body).Decode(&original); err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: decode original %s: %w", messageID, err)
	}

	if original.HasAttachments {
		scanning, err := g.firstAttachmentIsScanPending(ctx, mailbox, messageID)
		if err != nil {
			return ForwardResult{}, err
		}
		if scanning {
			logger.Info("forward deferred: attachment scan in progress", "message_id", messageID)
			return ForwardResult{Deferred: true}, nil
		}
	}

	createURL := fmt.Sprintf("%s/users/%s/messages/%s/createForward", g.cfg.BaseURL, mailbox, messageID)
	createResp, err := g.do(ctx, http.MethodPost, createURL, []byte("{}"))
	if err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: create forward %s: %w", messageID, err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode == http.StatusUnauthorized || createResp.StatusCode == http.StatusForbidden {
		return ForwardResult{}, fmt.Errorf("mailgateway: create forward %s: non-retryable status %d", messageID, createResp.StatusCode)
	}
	if createResp.StatusCode != http.StatusCreated {
		return ForwardResult{}, fmt.Errorf("mailgateway: create forward %s: unexpected status %d", messageID, createResp.StatusCode)
	}

	var draft graphMessage
	if err := json.NewDecoder(createResp.Body).Decode(&draft); err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: decode draft %s: %w", messageID, err)
	}

	patchURL := fmt.Sprintf("%s/users/%s/messages/%s", g.cfg.BaseURL, mailbox, draft.ID)
	patchBody, _ := json.Marshal(map[string]any{
		"toRecipients": toRecipientList(to),
		"ccRecipients": toRecipientList(cc),
		"replyTo":      toRecipientList([]string{originalSender}),
	})
	patchResp, err := g.do(ctx, http.MethodPatch, patchURL, patchBody)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: patch draft %s: %w", draft.ID, err)
	}
	defer patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusOK {
		return ForwardResult{}, fmt.Errorf("mailgateway: patch draft %s: unexpected status %d", draft.ID, patchResp.StatusCode)
	}

	sendURL := fmt.Sprintf("%s/users/%s/messages/%s/send", g.cfg.BaseURL, mailbox, draft.ID)
	sendResp, err := g.do(ctx, http.MethodPost, sendURL, nil)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("mailgateway: send draft %s: %w", draft.ID, err)
	}
	defer sendResp.Body.Close()
	if sendResp.StatusCode != http.StatusAccepted {
		return ForwardResult{}, fmt.Errorf("mailgateway: send draft %s: unexpected status %d", draft.ID, sendResp.StatusCode)
	}

	return ForwardResult{}, nil
}

func (g *Gateway) firstAttachmentIsScanPending(ctx context.Context, mailbox, messageID string) (bool, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s/attachments", g.cfg.BaseURL, mailbox, messageID)
	resp, err := g.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("mailgateway: list attachments %s: %w", messageID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("mailgateway: list attachments %s: unexpected status %d", messageID, resp.StatusCode)
	}

	var list graphAttachmentListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, fmt.Errorf("mailgateway: decode attachments %s: %w", messageID, err)
	}
	if len(list.Value) == 0 {
		return false, nil
	}
	return list.Value[0].Name == domain.SafeAttachmentsScanName, nil
}

// Send sends a brand-new message (used by the autoresponder), with a
// charset header so non-ASCII subject/body content survives transit.
func (g *Gateway) Send(ctx context.Context, from string, to []string, subject, htmlBody string) error {
	url := fmt.Sprintf("%s/users/%s/sendMail", g.cfg.BaseURL, from)
	payload, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]string{
				"contentType": "HTML",
				"content":     ensureUTF8Charset(htmlBody),
			},
			"toRecipients": toRecipientList(to),
		},
		"saveToSentItems": true,
	})

	resp, err := g.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return fmt.Errorf("mailgateway: send from %s: %w", from, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("mailgateway: send from %s: unexpected status %d", from, resp.StatusCode)
	}
	return nil
}

// ensureUTF8Charset injects a meta charset tag when the body has none, so
// the provider renders non-ASCII content correctly. This is the single
// primary send strategy; base64 transfer-encoding is not implemented.
func ensureUTF8Charset(htmlBody string) string {
	if strings.Contains(strings.ToLower(htmlBody), "charset=") {
		return htmlBody
	}
	meta := `<meta http-equiv="Content-Type" content="text/html; charset=UTF-8">`
	if idx := strings.Index(strings.ToLower(htmlBody), "<head>"); idx != -1 {
		return htmlBody[:idx+len("<head>")] + meta + htmlBody[idx+len("<head>"):]
	}
	return meta + htmlBody
}

func toRecipientList(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		out = append(out, map[string]any{
			"emailAddress": map[string]string{"address": a},
		})
	}
	return out
}

func (g *Gateway) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailgateway: acquire token: %w", err)
	}

	var bodyReader *strings.Reader
	if body != nil {
		bodyReader = strings.NewReader(string(body))
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	// http.NewRequestWithContext already populates req.GetBody for a
	// *strings.Reader body, so retries can reset it without extra work.

	return g.client.Do(req)
}
