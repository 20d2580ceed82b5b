// internal/model/campaign_message.go
package model

import "time"

const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

type CampaignMessage struct {
	ID          string     `db:"id" json:"id"`
	CampaignID  string     `db:"campaign_id" json:"campaign_id"`
	CustomerID  *string    `db:"customer_id" json:"customer_id,omitempty"`
	Phone       string     `db:"phone" json:"phone"`
	Text        string     `db:"text" json:"text"`
	Seq         int        `db:"seq" json:"seq"` // audience order, breaks created_at ties
	Status      string     `db:"status" json:"status"`
	ErrorDetail *string    `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}
