// Package phone canonicalizes recipient numbers to E.164 so every lookup and
// comparison happens on one representation.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"whatsapp-campaigns/internal/apperrors"
)

const channelPrefix = "whatsapp:"

// Canonicalizer turns user- or gateway-supplied numbers into E.164.
type Canonicalizer struct {
	region string
}

// New returns a canonicalizer that reads national numbers in the given region.
func New(defaultRegion string) *Canonicalizer {
	if defaultRegion == "" {
		defaultRegion = "EC"
	}
	return &Canonicalizer{region: strings.ToUpper(defaultRegion)}
}

// Canonical returns the E.164 form of raw, or a ValidationError.
func (c *Canonicalizer) Canonical(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) >= len(channelPrefix) && strings.EqualFold(cleaned[:len(channelPrefix)], channelPrefix) {
		cleaned = strings.TrimSpace(cleaned[len(channelPrefix):])
	}
	if cleaned == "" {
		return "", apperrors.NewValidation("phone", "empty phone number")
	}
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}

	num, err := phonenumbers.Parse(cleaned, c.region)
	if err != nil {
		return "", apperrors.NewValidation("phone", "cannot parse %q: %v", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", apperrors.NewValidation("phone", "%q is not a valid number", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Channel addresses an E.164 number on the WhatsApp channel.
func Channel(e164 string) string {
	return channelPrefix + e164
}
