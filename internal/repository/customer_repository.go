package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// GroupRepositoryInterface is the read-only view of client groups used to
// resolve campaign audiences.
type GroupRepositoryInterface interface {
	GetGroup(ctx context.Context, id string) (*model.ClientGroup, error)
	ListMembers(ctx context.Context, groupID string) ([]model.Customer, error)
}

type GroupRepository struct {
	DB *sql.DB
}

// GetGroup returns nil when the group does not exist
func (r *GroupRepository) GetGroup(ctx context.Context, id string) (*model.ClientGroup, error) {
	query := `SELECT id, name, created_at FROM client_groups WHERE id = $1`

	var g model.ClientGroup
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

// ListMembers returns a group's customers in the order they joined
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]model.Customer, error) {
	query := `
		SELECT c.id, c.name, c.phone, c.created_at
		FROM client_group_members m
		JOIN customers c ON c.id = m.customer_id
		WHERE m.group_id = $1
		ORDER BY m.created_at, c.id
	`
	rows, err := r.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// CreateGroup inserts a group and its customers in one transaction.
// Membership timestamps are staggered so ListMembers returns customers in
// the order given.
func (r *GroupRepository) CreateGroup(ctx context.Context, group *model.ClientGroup, customers []model.Customer) error {
	return withTransaction(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_groups (id, name, created_at) VALUES ($1, $2, $3)`,
			group.ID, group.Name, group.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		if len(customers) == 0 {
			return nil
		}

		insertCustomers := psql.Insert("customers").Columns("id", "name", "phone", "created_at")
		insertMembers := psql.Insert("client_group_members").Columns("group_id", "customer_id", "created_at")
		for i, c := range customers {
			joined := group.CreatedAt.Add(time.Duration(i) * time.Microsecond)
			insertCustomers = insertCustomers.Values(c.ID, c.Name, c.Phone, c.CreatedAt)
			insertMembers = insertMembers.Values(group.ID, c.ID, joined)
		}

		query, args, err := insertCustomers.Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert customers: %w", err)
		}

		query, args, err = insertMembers.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert group members: %w", err)
		}
		return nil
	})
}

var _ GroupRepositoryInterface = (*GroupRepository)(nil)
