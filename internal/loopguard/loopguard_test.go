package loopguard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/apex-triage/internal/config"
)

var testAccounts = []string{"claims@example.com", "onlinesupport@example.com"}

func TestEvaluateAllowsOrdinaryMessage(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "claims@example.com",
		"Need help with my claim", "Please can someone call me back.")
	assert.False(t, d.Skip)
}

func TestEvaluateSkipsShortAddresses(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts, "a@b", "claims@example.com", "subj", "body")
	assert.True(t, d.Skip)

	d = Evaluate(config.LoopGuardConfig{}, testAccounts, "customer@gmail.com", "x@y", "subj", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsOwnMailboxAsRecipientOrSender(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts, "claims@example.com", "customer@gmail.com", "subj", "body")
	assert.True(t, d.Skip)

	d = Evaluate(config.LoopGuardConfig{}, testAccounts, "customer@gmail.com", "onlinesupport@example.com", "subj", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsExchangeSystemSender(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "MicrosoftExchange329e71ec88ae4c1ab@insurer.com",
		"Undeliverable", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsCorporateExchangeAddress(t *testing.T) {
	cfg := config.LoopGuardConfig{CorporateDomain: "insurer.com"}
	d := Evaluate(cfg, testAccounts,
		"customer@gmail.com", "microsoftexchange-service@insurer.com",
		"hello", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsSystemIndicatorSender(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "no-reply@insurer.com", "subj", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsBounceSubject(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "someone@insurer.com",
		"Undeliverable: your message", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsBounceBody(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "someone@insurer.com",
		"Re: claim", "Your message could not be delivered to the recipient.")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsPriorAutoresponse(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "someone@insurer.com",
		"Auto Response: we received your message", "body")
	assert.True(t, d.Skip)
}

func TestEvaluateSkipsBounceSubjectPrefix(t *testing.T) {
	d := Evaluate(config.LoopGuardConfig{}, testAccounts,
		"customer@gmail.com", "someone@insurer.com",
		"NDR: your message", "body")
	assert.True(t, d.Skip)
}

func TestIsBounceOrSystemMessage(t *testing.T) {
	assert.True(t, IsBounceOrSystemMessage(
		"MicrosoftExchange329e71ec88ae4c1ab@insurer.com", "subj", "body"))
	assert.True(t, IsBounceOrSystemMessage(
		"someone@insurer.com", "Delivery Status Notification (Failure)", "body"))
	assert.True(t, IsBounceOrSystemMessage(
		"someone@insurer.com", "subj", "message could not be delivered"))
	assert.False(t, IsBounceOrSystemMessage(
		"customer@gmail.com", "My claim", "Please assist with my claim."))
}

func TestExtractBounceOriginalAddresses(t *testing.T) {
	body := "Diagnostic information for administrators:\n" +
		"Generating server: mail.insurer.com\n" +
		"original sender: customer@gmail.com\n" +
		"original recipient: claims@insurer.com\n"

	sender, recipient := ExtractBounceOriginalAddresses(body, "Undeliverable")
	assert.Equal(t, "customer@gmail.com", sender)
	assert.Equal(t, "claims@insurer.com", recipient)
}

func TestExtractBounceOriginalAddressesFallbackPatterns(t *testing.T) {
	body := "Your message to policyservices@insurer.com couldn't be delivered."
	_, recipient := ExtractBounceOriginalAddresses(body, "Undeliverable")
	assert.Equal(t, "policyservices@insurer.com", recipient)
}

func TestExtractBounceOriginalAddressesNoMatch(t *testing.T) {
	sender, recipient := ExtractBounceOriginalAddresses("nothing useful here", "subj")
	assert.Empty(t, sender)
	assert.Empty(t, recipient)
}
