// internal/model/customer.go
package model

import "time"

type Customer struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ClientGroup is a named set of customers a campaign targets.
type ClientGroup struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Recipient is one resolved audience entry.
type Recipient struct {
	CustomerID *string `json:"customer_id,omitempty"`
	Phone      string  `json:"phone"`
}
