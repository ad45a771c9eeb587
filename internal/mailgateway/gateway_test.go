package mailgateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/apex-triage/internal/domain"
)

func TestToDomainMessageHTMLBody(t *testing.T) {
	received := time.Date(2026, 7, 28, 9, 0, 0, 0, time.UTC)
	m := graphMessage{
		ID:                "AAMk-123",
		InternetMessageID: "<abc@insurer.com>",
		Subject:           "Claim update",
		From:              graphAddress{EmailAddress: graphEmailAddr{Address: "customer@gmail.com"}},
		ToRecipients:      []graphRecip{{EmailAddress: graphEmailAddr{Address: "claims@insurer.com"}}},
		CcRecipients: []graphRecip{
			{EmailAddress: graphEmailAddr{Address: "cc1@insurer.com"}},
			{EmailAddress: graphEmailAddr{Address: "cc2@insurer.com"}},
		},
		ReceivedDateTime: received,
		Body:             graphBody{ContentType: "html", Content: "<p>hi</p>"},
		HasAttachments:   true,
	}

	msg := toDomainMessage(m)

	assert.Equal(t, "AAMk-123", msg.ProviderID)
	assert.Equal(t, "<abc@insurer.com>", msg.InternetMessageID)
	assert.Equal(t, "customer@gmail.com", msg.From)
	assert.Equal(t, "claims@insurer.com", msg.To)
	assert.Equal(t, "cc1@insurer.com,cc2@insurer.com", msg.CC)
	assert.Equal(t, "<p>hi</p>", msg.BodyHTML)
	assert.Empty(t, msg.BodyText)
	assert.True(t, msg.HasAttachments)
	assert.Equal(t, received, msg.ReceivedAt)
}

func TestToDomainMessageTextBody(t *testing.T) {
	m := graphMessage{Body: graphBody{ContentType: "text", Content: "plain body"}}
	msg := toDomainMessage(m)
	assert.Equal(t, "plain body", msg.BodyText)
	assert.Empty(t, msg.BodyHTML)
}

func TestToDomainMessageFlagsExchangeBounceAsBounce(t *testing.T) {
	m := graphMessage{
		From:    graphAddress{EmailAddress: graphEmailAddr{Address: "MicrosoftExchange329e71ec88ae4615bbc36ab6ce41109e@corporate.tld"}},
		Subject: "Undeliverable: Claim update",
		Body:    graphBody{ContentType: "text", Content: "Your message was not delivered to the recipient."},
	}
	msg := toDomainMessage(m)
	assert.True(t, msg.IsBounce)
}

func TestToDomainMessageDoesNotFlagOrdinaryMessage(t *testing.T) {
	m := graphMessage{
		From:    graphAddress{EmailAddress: graphEmailAddr{Address: "customer@gmail.com"}},
		Subject: "Please update my address",
		Body:    graphBody{ContentType: "text", Content: "I moved, please update my policy."},
	}
	msg := toDomainMessage(m)
	assert.False(t, msg.IsBounce)
}

func TestEnsureUTF8CharsetInjectsMetaIntoHead(t *testing.T) {
	in := "<html><head><title>t</title></head><body>hi</body></html>"
	out := ensureUTF8Charset(in)
	assert.Contains(t, out, `charset=UTF-8`)
	assert.True(t, indexOf(out, "<head>")+len("<head>") < indexOf(out, "charset=UTF-8"))
}

func TestEnsureUTF8CharsetPrependsWhenNoHead(t *testing.T) {
	in := "<p>hi</p>"
	out := ensureUTF8Charset(in)
	assert.True(t, indexOf(out, "charset=UTF-8") < indexOf(out, "<p>hi</p>"))
}

func TestEnsureUTF8CharsetNoOpWhenAlreadyPresent(t *testing.T) {
	in := `<meta charset="utf-8">hi`
	assert.Equal(t, in, ensureUTF8Charset(in))
}

func TestToRecipientListSkipsBlankAndTrimsSpace(t *testing.T) {
	out := toRecipientList([]string{" a@b.com ", "", "c@d.com"})
	assert.Len(t, out, 2)
}

func TestSafeAttachmentsScanNameMatch(t *testing.T) {
	assert.Equal(t, domain.SafeAttachmentsScanName, "Safe Attachments Scan In Progress")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
