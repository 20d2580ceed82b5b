// internal/service/audience.go
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// DefaultMinPhoneDigits applies when the resolver has no minimum configured.
const DefaultMinPhoneDigits = 8

// AudienceResolver flattens a client group into recipients, one per
// normalized phone number, in membership order. Numbers shorter than
// MinDigits are skipped.
type AudienceResolver struct {
	Groups          repository.GroupRepositoryInterface
	CountryCode     string
	NationalLengths []int
	MinDigits       int
}

func (r *AudienceResolver) Resolve(ctx context.Context, groupID string) ([]model.Recipient, error) {
	members, err := r.Groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}

	minDigits := r.MinDigits
	if minDigits <= 0 {
		minDigits = DefaultMinPhoneDigits
	}

	seen := make(map[string]struct{}, len(members))
	recipients := make([]model.Recipient, 0, len(members))
	for _, m := range members {
		phone := NormalizePhone(m.Phone, r.CountryCode, r.NationalLengths, minDigits)
		if phone == "" {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}

		customerID := m.ID
		recipients = append(recipients, model.Recipient{CustomerID: &customerID, Phone: phone})
	}
	return recipients, nil
}

// NormalizePhone keeps digits only, drops leading zeros (trunk or
// international prefixes) and prefixes the country code when the length
// matches a national number. It returns "" for numbers with fewer than
// minDigits digits.
func NormalizePhone(raw, countryCode string, nationalLengths []int, minDigits int) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" || len(digits) < minDigits {
		return ""
	}
	for _, n := range nationalLengths {
		if len(digits) == n {
			return countryCode + digits
		}
	}
	return digits
}
