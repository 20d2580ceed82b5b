package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// MaterializeFunc builds the message rows for a campaign that was just moved
// to processing. It runs while the activation transaction is open.
type MaterializeFunc func(ctx context.Context, c *model.Campaign) ([]*model.CampaignMessage, error)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	Update(ctx context.Context, c *model.Campaign, allowSent bool) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status string) ([]*model.Campaign, error)
	Delete(ctx context.Context, id string) (bool, error)

	// Status transitions. Each is a conditional update; false means the
	// campaign was not in the expected state when the update ran.
	Schedule(ctx context.Context, id string, at, now time.Time) (bool, error)
	Unschedule(ctx context.Context, id string, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error)
	Activate(ctx context.Context, id string, now time.Time, materialize MaterializeFunc) (bool, error)
	Complete(ctx context.Context, id string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, now time.Time) (bool, error)
	ResetToDraft(ctx context.Context, id string, now time.Time) (bool, error)

	// Drain lease
	ClaimDrain(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error)
	ExtendDrain(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseDrain(ctx context.Context, id, owner string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, title, group_id, message, variations, media_url, status, scheduled_for,
	completed_at, created_at, updated_at, drain_owner, drain_lease_until`

func scanCampaign(row scanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Title, &c.GroupID, &c.Message, pq.Array(&c.Variations), &c.MediaURL, &c.Status,
		&c.ScheduledFor, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt, &c.DrainOwner, &c.DrainLeaseUntil,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func variationsArg(v []string) any {
	if v == nil {
		v = []string{}
	}
	return pq.Array(v)
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	query := `
		INSERT INTO campaigns (id, title, group_id, message, variations, media_url, status, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.Title, c.GroupID, c.Message, variationsArg(c.Variations), c.MediaURL,
		c.Status, c.ScheduledFor, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Update writes the editable fields. Status is never changed here.
// Update stores new content for an editable campaign. Unless allowSent is
// set, a campaign with any sent message is left unchanged. False means one
// of the conditions failed when the update ran.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign, allowSent bool) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE campaigns
		SET title=$1, group_id=$2, message=$3, variations=$4, media_url=$5, updated_at=$6
		WHERE id=$7 AND status IN ($8, $9, $10)
		  AND ($11 OR NOT EXISTS (SELECT 1 FROM campaign_messages m WHERE m.campaign_id=$7 AND m.status=$12))
	`
	res, err := r.DB.ExecContext(ctx, query,
		c.Title, c.GroupID, c.Message, variationsArg(c.Variations), c.MediaURL, now, c.ID,
		model.CampaignStatusDraft, model.CampaignStatusScheduled, model.CampaignStatusPaused,
		allowSent, model.MessageStatusSent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign: %w", err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return false, err
	}
	c.UpdatedAt = &now
	return true, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	countQ := psql.Select("COUNT(*)").From("campaigns")
	dataQ := psql.Select(campaignColumns).From("campaigns")
	if status != "" {
		countQ = countQ.Where("status = ?", status)
		dataQ = dataQ.Where("status = ?", status)
	}

	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	dataSQL, dataArgs, err := dataQ.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	campaigns, err := r.queryCampaigns(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// ListDue returns scheduled campaigns whose time has come, oldest first.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status=$1 AND (scheduled_for IS NULL OR scheduled_for <= $2)
		ORDER BY scheduled_for NULLS FIRST, created_at`
	return r.queryCampaigns(ctx, query, model.CampaignStatusScheduled, now)
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status string) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY created_at, id`
	return r.queryCampaigns(ctx, query, status)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Delete removes a non-completed campaign and its messages.
func (r *CampaignRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := withTransaction(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_messages WHERE campaign_id=$1`, id); err != nil {
			return fmt.Errorf("failed to delete campaign messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND status NOT IN ($2, $3)`,
			id, model.CampaignStatusProcessing, model.CampaignStatusCompleted,
		)
		if err != nil {
			return fmt.Errorf("failed to delete campaign: %w", err)
		}
		deleted, err = affected(res)
		if err != nil {
			return err
		}
		if !deleted {
			// roll the message delete back
			return errNothingToDo
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	return deleted, err
}

var errNothingToDo = errors.New("nothing to do")

// ====================== Status transitions ======================

func (r *CampaignRepository) Schedule(ctx context.Context, id string, at, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, scheduled_for=$2, updated_at=$3
		WHERE id=$4 AND status IN ($5, $1)
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusScheduled, at, now, id, model.CampaignStatusDraft)
	if err != nil {
		return false, fmt.Errorf("failed to schedule campaign: %w", err)
	}
	return affected(res)
}

func (r *CampaignRepository) Unschedule(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, scheduled_for=NULL, updated_at=$2
		WHERE id=$3 AND status=$4
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusDraft, now, id, model.CampaignStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to unschedule campaign: %w", err)
	}
	return affected(res)
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	res, err := r.DB.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to move campaign from %s to %s: %w", from, to, err)
	}
	return affected(res)
}

// Activate moves a due campaign from scheduled to processing and inserts its
// messages in the same transaction. A lost race returns false without
// calling materialize.
func (r *CampaignRepository) Activate(ctx context.Context, id string, now time.Time, materialize MaterializeFunc) (bool, error) {
	var activated bool
	err := withTransaction(ctx, r.DB, func(tx *sql.Tx) error {
		query := `
			UPDATE campaigns SET status=$1, updated_at=$2
			WHERE id=$3 AND status=$4 AND (scheduled_for IS NULL OR scheduled_for <= $2)
			RETURNING ` + campaignColumns
		c, err := scanCampaign(tx.QueryRowContext(ctx, query,
			model.CampaignStatusProcessing, now, id, model.CampaignStatusScheduled,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to activate campaign: %w", err)
		}

		msgs, err := materialize(ctx, c)
		if err != nil {
			return fmt.Errorf("failed to build campaign messages: %w", err)
		}
		if err := insertMessages(ctx, tx, msgs, now); err != nil {
			return err
		}
		activated = true
		return nil
	})
	return activated, err
}

// Complete closes a processing campaign that has no pending messages left.
func (r *CampaignRepository) Complete(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, completed_at=$2, updated_at=$2, drain_owner=NULL, drain_lease_until=NULL
		WHERE id=$3 AND status=$4
		  AND NOT EXISTS (SELECT 1 FROM campaign_messages m WHERE m.campaign_id=$3 AND m.status=$5)
	`
	res, err := r.DB.ExecContext(ctx, query,
		model.CampaignStatusCompleted, now, id, model.CampaignStatusProcessing, model.MessageStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}
	return affected(res)
}

// MarkFailed gives up on a processing campaign that already reached some
// recipients. Campaigns held by an active drain lease are left alone.
func (r *CampaignRepository) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, completed_at=$2, updated_at=$2, drain_owner=NULL, drain_lease_until=NULL
		WHERE id=$3 AND status=$4
		  AND (drain_lease_until IS NULL OR drain_lease_until <= $2)
		  AND EXISTS (SELECT 1 FROM campaign_messages m WHERE m.campaign_id=$3 AND m.status=$5)
	`
	res, err := r.DB.ExecContext(ctx, query,
		model.CampaignStatusFailed, now, id, model.CampaignStatusProcessing, model.MessageStatusSent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign failed: %w", err)
	}
	return affected(res)
}

// ResetToDraft returns an untouched processing campaign to draft and drops
// its messages.
func (r *CampaignRepository) ResetToDraft(ctx context.Context, id string, now time.Time) (bool, error) {
	var reset bool
	err := withTransaction(ctx, r.DB, func(tx *sql.Tx) error {
		query := `
			UPDATE campaigns
			SET status=$1, scheduled_for=NULL, updated_at=$2, drain_owner=NULL, drain_lease_until=NULL
			WHERE id=$3 AND status=$4
			  AND (drain_lease_until IS NULL OR drain_lease_until <= $2)
			  AND NOT EXISTS (SELECT 1 FROM campaign_messages m WHERE m.campaign_id=$3 AND m.status=$5)
		`
		res, err := tx.ExecContext(ctx, query,
			model.CampaignStatusDraft, now, id, model.CampaignStatusProcessing, model.MessageStatusSent,
		)
		if err != nil {
			return fmt.Errorf("failed to reset campaign: %w", err)
		}
		if reset, err = affected(res); err != nil || !reset {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_messages WHERE campaign_id=$1`, id); err != nil {
			return fmt.Errorf("failed to delete campaign messages: %w", err)
		}
		return nil
	})
	return reset, err
}

// ====================== Drain lease ======================

func (r *CampaignRepository) ClaimDrain(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
		UPDATE campaigns SET drain_owner=$1, drain_lease_until=$2
		WHERE id=$3 AND status=$4 AND (drain_lease_until IS NULL OR drain_lease_until <= $5)
	`
	res, err := r.DB.ExecContext(ctx, query, owner, now.Add(ttl), id, model.CampaignStatusProcessing, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign: %w", err)
	}
	return affected(res)
}

// ExtendDrain pushes the lease forward while owner still holds it. False
// means recovery or another tick took the campaign over.
func (r *CampaignRepository) ExtendDrain(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	query := `UPDATE campaigns SET drain_lease_until=$1 WHERE id=$2 AND drain_owner=$3`
	res, err := r.DB.ExecContext(ctx, query, now.Add(ttl), id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to extend drain lease: %w", err)
	}
	return affected(res)
}

func (r *CampaignRepository) ReleaseDrain(ctx context.Context, id, owner string) error {
	query := `UPDATE campaigns SET drain_owner=NULL, drain_lease_until=NULL WHERE id=$1 AND drain_owner=$2`
	if _, err := r.DB.ExecContext(ctx, query, id, owner); err != nil {
		return fmt.Errorf("failed to release campaign: %w", err)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
