// internal/model/campaign.go
package model

import "time"

const (
	CampaignStatusDraft      = "draft"
	CampaignStatusScheduled  = "scheduled"
	CampaignStatusProcessing = "processing"
	CampaignStatusPaused     = "paused"
	CampaignStatusCompleted  = "completed"
	CampaignStatusFailed     = "failed"
)

type Campaign struct {
	ID           string     `db:"id" json:"id"`
	Title        string     `db:"title" json:"title"`
	GroupID      string     `db:"group_id" json:"group_id"`
	Message      string     `db:"message" json:"message"`
	Variations   []string   `db:"variations" json:"variations"`
	MediaURL     *string    `db:"media_url" json:"media_url,omitempty"`
	Status       string     `db:"status" json:"status"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`

	// drain lease, owned by the tick currently sending this campaign's batch
	DrainOwner      *string    `db:"drain_owner" json:"-"`
	DrainLeaseUntil *time.Time `db:"drain_lease_until" json:"-"`
}

// IsEditable reports whether the campaign's content may still change.
func (c *Campaign) IsEditable() bool {
	switch c.Status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusPaused:
		return true
	}
	return false
}

// IsDeletable reports whether an operator may delete the campaign. A
// processing campaign must be paused first.
func (c *Campaign) IsDeletable() bool {
	return c.Status != CampaignStatusCompleted && c.Status != CampaignStatusProcessing
}

// LeaseHeld reports whether another tick holds an unexpired drain lease.
func (c *Campaign) LeaseHeld(now time.Time) bool {
	return c.DrainLeaseUntil != nil && c.DrainLeaseUntil.After(now)
}

// MessageStats aggregates a campaign's messages by status.
type MessageStats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Add counts n messages in the given status.
func (s *MessageStats) Add(status string, n int) {
	switch status {
	case MessageStatusPending:
		s.Pending += n
	case MessageStatusSent:
		s.Sent += n
	case MessageStatusFailed:
		s.Failed += n
	}
	s.Total += n
}

// CampaignEvent is published on every lifecycle transition.
type CampaignEvent struct {
	Type       string    `json:"type"`
	CampaignID string    `json:"campaign_id"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}
