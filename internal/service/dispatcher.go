// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/gateway"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// MessageSender delivers one message through the outbound gateway.
type MessageSender interface {
	Send(ctx context.Context, msg gateway.Message) error
}

// SenderFactory builds a sender from the settings read at the start of a tick.
type SenderFactory func(settings gateway.Settings) MessageSender

// CampaignDrain is the outcome of one campaign's batch.
type CampaignDrain struct {
	CampaignID string `json:"campaign_id"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// TickSummary reports what a single tick did.
type TickSummary struct {
	TickID    string          `json:"tick_id"`
	Activated []string        `json:"activated"`
	Drained   []CampaignDrain `json:"drained"`
	Completed []string        `json:"completed"`
	Skipped   []string        `json:"skipped"`
	Errors    []string        `json:"errors"`
}

// Empty reports whether the tick found nothing to do.
func (s *TickSummary) Empty() bool {
	return len(s.Activated) == 0 && len(s.Drained) == 0 && len(s.Completed) == 0 &&
		len(s.Skipped) == 0 && len(s.Errors) == 0
}

func (s *TickSummary) fail(campaignID string, err error) {
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", campaignID, err))
}

// Dispatcher runs the tick: activate due campaigns, drain one bounded batch
// per processing campaign, then complete campaigns with nothing pending.
type Dispatcher struct {
	Campaigns *CampaignService
	Settings  gateway.SettingsProvider
	NewSender SenderFactory
	BatchSize int
	LeaseTTL  time.Duration
	Clock     Clock
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

// Tick performs one full dispatch pass. Message outcomes are committed one
// by one, so a tick that stops partway leaves consistent state behind.
func (d *Dispatcher) Tick(ctx context.Context) (*TickSummary, error) {
	start := time.Now()
	summary := &TickSummary{
		TickID:    uuid.NewString(),
		Activated: []string{},
		Drained:   []CampaignDrain{},
		Completed: []string{},
		Skipped:   []string{},
		Errors:    []string{},
	}
	log := d.Log.With().Str("tick_id", summary.TickID).Logger()

	err := d.tick(ctx, summary, log)
	d.Metrics.ObserveTick(time.Since(start), err)
	if err != nil {
		log.Error().Err(err).Msg("tick failed")
		return summary, err
	}
	if !summary.Empty() {
		log.Info().
			Int("activated", len(summary.Activated)).
			Int("drained", len(summary.Drained)).
			Int("completed", len(summary.Completed)).
			Int("errors", len(summary.Errors)).
			Msg("tick finished")
	}
	return summary, nil
}

func (d *Dispatcher) tick(ctx context.Context, summary *TickSummary, log zerolog.Logger) error {
	if err := d.activate(ctx, summary, log); err != nil {
		return fmt.Errorf("activation pass: %w", err)
	}
	if err := d.drain(ctx, summary, log); err != nil {
		return fmt.Errorf("drain pass: %w", err)
	}
	if err := d.complete(ctx, summary, log); err != nil {
		return fmt.Errorf("completion pass: %w", err)
	}
	return nil
}

func (d *Dispatcher) activate(ctx context.Context, summary *TickSummary, log zerolog.Logger) error {
	due, err := d.Campaigns.CampaignRepo.ListDue(ctx, d.Clock.Now())
	if err != nil {
		return err
	}
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := d.Campaigns.Activate(ctx, c.ID, d.Clock.Now())
		if err != nil {
			log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to activate campaign")
			summary.fail(c.ID, err)
			continue
		}
		if ok {
			summary.Activated = append(summary.Activated, c.ID)
		}
	}
	return nil
}

func (d *Dispatcher) drain(ctx context.Context, summary *TickSummary, log zerolog.Logger) error {
	active, err := d.Campaigns.CampaignRepo.ListByStatus(ctx, model.CampaignStatusProcessing)
	if err != nil {
		return err
	}

	var sender MessageSender
	for _, c := range active {
		if err := ctx.Err(); err != nil {
			return err
		}

		owner := summary.TickID
		claimed, err := d.Campaigns.CampaignRepo.ClaimDrain(ctx, c.ID, owner, d.Clock.Now(), d.LeaseTTL)
		if err != nil {
			log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to claim campaign for draining")
			summary.fail(c.ID, err)
			continue
		}
		if !claimed {
			summary.Skipped = append(summary.Skipped, c.ID)
			continue
		}

		if sender == nil {
			settings, err := d.Settings.GatewaySettings(ctx)
			if err != nil {
				d.release(ctx, c.ID, owner, log)
				return fmt.Errorf("gateway settings: %w", err)
			}
			sender = d.NewSender(settings)
		}

		result, err := d.drainCampaign(ctx, c, owner, sender, log)
		d.release(ctx, c.ID, owner, log)
		if result.Sent+result.Failed > 0 {
			summary.Drained = append(summary.Drained, result)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("campaign_id", c.ID).Msg("campaign batch aborted")
			summary.fail(c.ID, err)
		}
	}
	return nil
}

// ErrDrainLost stops a batch whose campaign was taken over by recovery or by
// another tick after the drain lease lapsed.
var ErrDrainLost = errors.New("drain lease lost")

// drainCampaign sends up to BatchSize pending messages in creation order.
// The lease is renewed before every send, so it only has to outlive a single
// send. A gateway failure fails only that message. Outcomes are written with
// a context that outlives cancellation so a delivered message is always
// recorded as sent.
func (d *Dispatcher) drainCampaign(ctx context.Context, c *model.Campaign, owner string, sender MessageSender, log zerolog.Logger) (CampaignDrain, error) {
	result := CampaignDrain{CampaignID: c.ID}
	repo := d.Campaigns.MessageRepo
	record := context.WithoutCancel(ctx)

	batch, err := repo.NextPending(ctx, c.ID, d.BatchSize)
	if err != nil {
		return result, err
	}

	for _, msg := range batch {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		held, err := d.Campaigns.CampaignRepo.ExtendDrain(ctx, c.ID, owner, d.Clock.Now(), d.LeaseTTL)
		if err != nil {
			return result, err
		}
		if !held {
			return result, ErrDrainLost
		}

		sendErr := sender.Send(ctx, gateway.Message{Phone: msg.Phone, Text: msg.Text, MediaURL: c.MediaURL})
		if sendErr == nil {
			ok, err := repo.MarkSent(record, msg.ID, d.Clock.Now())
			if err != nil {
				return result, fmt.Errorf("record sent message %s: %w", msg.ID, err)
			}
			if !ok {
				log.Error().Str("campaign_id", c.ID).Str("message_id", msg.ID).Msg("delivered message no longer pending")
				return result, ErrDrainLost
			}
			result.Sent++
			d.Metrics.Message(model.MessageStatusSent)
			continue
		}

		// Abandoned before or during the call: the outcome is unknown, so
		// the message stays pending for the next tick.
		if errors.Is(sendErr, gateway.ErrNotAttempted) || ctx.Err() != nil {
			return result, sendErr
		}

		log.Warn().Err(sendErr).Str("campaign_id", c.ID).Str("message_id", msg.ID).Msg("message delivery failed")
		ok, err := repo.MarkFailed(record, msg.ID, sendErr.Error())
		if err != nil {
			return result, fmt.Errorf("record failed message %s: %w", msg.ID, err)
		}
		if !ok {
			return result, ErrDrainLost
		}
		result.Failed++
		d.Metrics.Message(model.MessageStatusFailed)
	}
	return result, nil
}

func (d *Dispatcher) release(ctx context.Context, id, owner string, log zerolog.Logger) {
	if err := d.Campaigns.CampaignRepo.ReleaseDrain(context.WithoutCancel(ctx), id, owner); err != nil {
		log.Warn().Err(err).Str("campaign_id", id).Msg("failed to release drain lease")
	}
}

func (d *Dispatcher) complete(ctx context.Context, summary *TickSummary, log zerolog.Logger) error {
	active, err := d.Campaigns.CampaignRepo.ListByStatus(ctx, model.CampaignStatusProcessing)
	if err != nil {
		return err
	}
	for _, c := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := d.Campaigns.Complete(ctx, c.ID, d.Clock.Now())
		if err != nil {
			log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to complete campaign")
			summary.fail(c.ID, err)
			continue
		}
		if ok {
			summary.Completed = append(summary.Completed, c.ID)
		}
	}
	return nil
}
