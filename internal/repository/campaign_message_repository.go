package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// insertChunk keeps a multi-row insert well under postgres' parameter limit
const insertChunk = 500

type CampaignMessageRepositoryInterface interface {
	NextPending(ctx context.Context, campaignID string, limit int) ([]*model.CampaignMessage, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, detail string) (bool, error)
	Stats(ctx context.Context, campaignID string) (model.MessageStats, error)
	StatsForCampaigns(ctx context.Context, campaignIDs []string) (map[string]model.MessageStats, error)
	ListByCampaign(ctx context.Context, campaignID, status string, offset, limit int) ([]*model.CampaignMessage, int, error)
}

type CampaignMessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, campaign_id, customer_id, phone, text, seq, status, error_detail, created_at, sent_at`

func scanMessage(row scanner) (*model.CampaignMessage, error) {
	var m model.CampaignMessage
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.CustomerID, &m.Phone, &m.Text, &m.Seq,
		&m.Status, &m.ErrorDetail, &m.CreatedAt, &m.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// insertMessages bulk inserts pending rows. A duplicate phone within the
// campaign is skipped by the unique constraint.
func insertMessages(ctx context.Context, tx *sql.Tx, msgs []*model.CampaignMessage, now time.Time) error {
	for start := 0; start < len(msgs); start += insertChunk {
		end := min(start+insertChunk, len(msgs))

		q := psql.Insert("campaign_messages").
			Columns("id", "campaign_id", "customer_id", "phone", "text", "seq", "status", "created_at")
		for _, m := range msgs[start:end] {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			m.Status = model.MessageStatusPending
			m.CreatedAt = now
			q = q.Values(m.ID, m.CampaignID, m.CustomerID, m.Phone, m.Text, m.Seq, m.Status, m.CreatedAt)
		}
		query, args, err := q.Suffix("ON CONFLICT (campaign_id, phone) DO NOTHING").ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert campaign messages: %w", err)
		}
	}
	return nil
}

// NextPending returns the oldest pending messages in audience order.
func (r *CampaignMessageRepository) NextPending(ctx context.Context, campaignID string, limit int) ([]*model.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages
		WHERE campaign_id=$1 AND status=$2
		ORDER BY created_at, seq
		LIMIT $3`
	return r.queryMessages(ctx, query, campaignID, model.MessageStatusPending, limit)
}

func (r *CampaignMessageRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	query := `UPDATE campaign_messages SET status=$1, sent_at=$2, error_detail=NULL WHERE id=$3 AND status=$4`
	res, err := r.DB.ExecContext(ctx, query, model.MessageStatusSent, sentAt, id, model.MessageStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark message sent: %w", err)
	}
	return affected(res)
}

func (r *CampaignMessageRepository) MarkFailed(ctx context.Context, id string, detail string) (bool, error) {
	query := `UPDATE campaign_messages SET status=$1, error_detail=$2 WHERE id=$3 AND status=$4`
	res, err := r.DB.ExecContext(ctx, query, model.MessageStatusFailed, detail, id, model.MessageStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark message failed: %w", err)
	}
	return affected(res)
}

func (r *CampaignMessageRepository) Stats(ctx context.Context, campaignID string) (model.MessageStats, error) {
	all, err := r.StatsForCampaigns(ctx, []string{campaignID})
	if err != nil {
		return model.MessageStats{}, err
	}
	return all[campaignID], nil
}

func (r *CampaignMessageRepository) StatsForCampaigns(ctx context.Context, campaignIDs []string) (map[string]model.MessageStats, error) {
	stats := make(map[string]model.MessageStats, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return stats, nil
	}

	query, args, err := psql.Select("campaign_id", "status", "COUNT(*)").
		From("campaign_messages").
		Where(sq.Eq{"campaign_id": campaignIDs}).
		GroupBy("campaign_id", "status").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query message stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var campaignID, status string
		var count int
		if err := rows.Scan(&campaignID, &status, &count); err != nil {
			return nil, err
		}
		s := stats[campaignID]
		s.Add(status, count)
		stats[campaignID] = s
	}
	return stats, rows.Err()
}

func (r *CampaignMessageRepository) ListByCampaign(ctx context.Context, campaignID, status string, offset, limit int) ([]*model.CampaignMessage, int, error) {
	where := sq.Eq{"campaign_id": campaignID}
	if status != "" {
		where["status"] = status
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("campaign_messages").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	dataSQL, dataArgs, err := psql.Select(messageColumns).From("campaign_messages").
		Where(where).
		OrderBy("created_at", "seq").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	msgs, err := r.queryMessages(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *CampaignMessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*model.CampaignMessage, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []*model.CampaignMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

var _ CampaignMessageRepositoryInterface = (*CampaignMessageRepository)(nil)
