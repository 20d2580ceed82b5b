// internal/service/recovery.go
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ReconcileSummary reports what a recovery run changed.
type ReconcileSummary struct {
	Failed  []string `json:"failed"`
	Reset   []string `json:"reset"`
	Skipped []string `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Recovery repairs campaigns left in processing. Campaigns that already
// reached someone are closed as failed; untouched ones go back to draft.
// Both updates only match campaigns still processing with no live drain
// lease, so a run racing a tick leaves that campaign alone.
type Recovery struct {
	Campaigns *CampaignService
	Clock     Clock
	Log       zerolog.Logger
}

func (r *Recovery) ReconcileStuck(ctx context.Context) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{Failed: []string{}, Reset: []string{}, Skipped: []string{}, Errors: []string{}}

	stuck, err := r.Campaigns.CampaignRepo.ListByStatus(ctx, model.CampaignStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing campaigns: %w", err)
	}

	for _, c := range stuck {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log := r.Log.With().Str("campaign_id", c.ID).Logger()

		now := r.Clock.Now()
		if c.LeaseHeld(now) {
			summary.Skipped = append(summary.Skipped, c.ID)
			continue
		}

		stats, err := r.Campaigns.MessageRepo.Stats(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load campaign stats")
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", c.ID, err))
			continue
		}

		if stats.Sent > 0 {
			ok, err := r.Campaigns.CampaignRepo.MarkFailed(ctx, c.ID, now)
			switch {
			case err != nil:
				log.Error().Err(err).Msg("failed to mark campaign failed")
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", c.ID, err))
			case ok:
				log.Warn().Int("sent", stats.Sent).Int("pending", stats.Pending).Msg("stuck campaign marked failed")
				summary.Failed = append(summary.Failed, c.ID)
				r.Campaigns.publish(EventFailed, c.ID, model.CampaignStatusFailed)
			default:
				summary.Skipped = append(summary.Skipped, c.ID)
			}
			continue
		}

		ok, err := r.Campaigns.CampaignRepo.ResetToDraft(ctx, c.ID, now)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("failed to reset campaign")
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", c.ID, err))
		case ok:
			log.Info().Int("discarded", stats.Total).Msg("stuck campaign reset to draft")
			summary.Reset = append(summary.Reset, c.ID)
			r.Campaigns.publish(EventReset, c.ID, model.CampaignStatusDraft)
		default:
			summary.Skipped = append(summary.Skipped, c.ID)
		}
	}
	return summary, nil
}
