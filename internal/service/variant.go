// internal/service/variant.go
package service

import (
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Variants lists the texts a campaign rotates through: the base message
// first, then every non-blank variation in order.
func Variants(base string, variations []string) []string {
	out := make([]string, 0, len(variations)+1)
	out = append(out, base)
	for _, v := range variations {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// SelectVariant picks the text for the recipient at the given audience
// position, round-robin over Variants.
func SelectVariant(c *model.Campaign, recipientIndex int) string {
	variants := Variants(c.Message, c.Variations)
	if recipientIndex < 0 {
		recipientIndex = -recipientIndex
	}
	return variants[recipientIndex%len(variants)]
}
