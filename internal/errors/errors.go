// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operator action is not allowed
	// from the campaign's current status.
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrCampaignLocked is returned when a campaign already has sent messages
	// and the caller did not ask to override.
	ErrCampaignLocked = errors.New("campaign already has sent messages")
)

// ErrCampaignNotFound is returned when no campaign matches the given ID
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrValidation carries the offending field so handlers can report it
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ErrValidation{Field: field, Message: message}
}

// NewInvalidTransition wraps ErrInvalidTransition with the attempted action.
func NewInvalidTransition(action, status string) error {
	return fmt.Errorf("cannot %s campaign in status %q: %w", action, status, ErrInvalidTransition)
}

func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var v *ErrValidation
	return errors.As(err, &v)
}
