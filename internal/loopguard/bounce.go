package loopguard

import (
	"regexp"
	"strings"
)

// IsBounceOrSystemMessage sets the domain.Message.IsBounce flag. This check
// runs earlier than, and independently of, Evaluate's suppression rules —
// it only classifies the message, it does not decide whether to reply.
func IsBounceOrSystemMessage(sender, subject, body string) bool {
	lowerSubject := strings.ToLower(subject)
	lowerBody := strings.ToLower(body)

	for _, re := range exchangeSystemPatterns {
		if re.MatchString(sender) {
			return true
		}
	}
	for _, ind := range bounceSubjectIndicators {
		if strings.Contains(lowerSubject, ind) {
			return true
		}
	}
	for _, ind := range bounceBodyIndicators {
		if strings.Contains(lowerBody, ind) {
			return true
		}
	}
	return false
}

var (
	senderAddressRE    = regexp.MustCompile(`(?i)sender address:\s*([^\s<>]+@[^\s<>]+)`)
	recipientAddressRE = regexp.MustCompile(`(?i)recipient address:\s*([^\s<>]+@[^\s<>]+)`)
	fromLineRE         = regexp.MustCompile(`(?i)^from:\s*([^\s<>]+@[^\s<>]+)`)
	toLineRE           = regexp.MustCompile(`(?i)^to:\s*([^\s<>]+@[^\s<>]+)`)
	originalSenderRE   = regexp.MustCompile(`(?i)original sender:\s*([^\s<>]+@[^\s<>]+)`)
	originalRecipRE    = regexp.MustCompile(`(?i)original recipient:\s*([^\s<>]+@[^\s<>]+)`)
	theSenderWasRE     = regexp.MustCompile(`(?i)the sender was:\s*([^\s<>]+@[^\s<>]+)`)
	theRecipientWasRE  = regexp.MustCompile(`(?i)the recipient was:\s*([^\s<>]+@[^\s<>]+)`)
	couldntDeliverToRE = regexp.MustCompile(`(?i)couldn't be delivered to:\s*([^\s<>]+@[^\s<>]+)`)
	messageToRE        = regexp.MustCompile(`(?i)your message to ([^\s<>]+@[^\s<>]+) couldn't be delivered`)
)

// ExtractBounceOriginalAddresses recovers the real original sender/recipient
// embedded in an Exchange bounce body, trying each pattern in order and
// returning the first match for each field.
func ExtractBounceOriginalAddresses(body, subject string) (originalSender, originalRecipient string) {
	for _, re := range []*regexp.Regexp{senderAddressRE, fromLineRE, originalSenderRE, theSenderWasRE} {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			originalSender = m[1]
			break
		}
	}
	for _, re := range []*regexp.Regexp{recipientAddressRE, toLineRE, originalRecipRE, theRecipientWasRE, couldntDeliverToRE, messageToRE} {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			originalRecipient = m[1]
			break
		}
	}
	return originalSender, originalRecipient
}
