// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

const (
	EventScheduled   = "campaign.scheduled"
	EventUnscheduled = "campaign.unscheduled"
	EventActivated   = "campaign.activated"
	EventPaused      = "campaign.paused"
	EventResumed     = "campaign.resumed"
	EventCompleted   = "campaign.completed"
	EventFailed      = "campaign.failed"
	EventReset       = "campaign.reset"
	EventDeleted     = "campaign.deleted"

	maxVariations = 10
)

// VariationGenerator writes alternate renderings of a message. It is only
// used while authoring, never during dispatch.
type VariationGenerator interface {
	Generate(ctx context.Context, base string, count int) ([]string, error)
}

// CampaignService owns campaign authoring and every lifecycle transition.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.CampaignMessageRepositoryInterface
	GroupRepo    repository.GroupRepositoryInterface
	Resolver     *AudienceResolver
	Variations   VariationGenerator
	Events       queue.Queue
	Clock        Clock
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
}

// CampaignInput carries the operator-editable fields.
type CampaignInput struct {
	Title      string   `json:"title"`
	GroupID    string   `json:"group_id"`
	Message    string   `json:"message"`
	Variations []string `json:"variations"`
	MediaURL   *string  `json:"media_url"`
}

// UpdateResult flags edits made after messages were already materialized.
type UpdateResult struct {
	Campaign *model.Campaign `json:"campaign"`
	Risky    bool            `json:"risky"`
	Warning  string          `json:"warning,omitempty"`
}

// CampaignView is a campaign with its aggregated delivery counts.
type CampaignView struct {
	*model.Campaign
	Stats       model.MessageStats `json:"stats"`
	HasFailures bool               `json:"has_failures"`
}

func (s *CampaignService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *CampaignService) validate(ctx context.Context, in *CampaignInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return appErrors.NewValidation("title", "is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return appErrors.NewValidation("message", "is required")
	}
	if len(in.Variations) > maxVariations {
		return appErrors.NewValidation("variations", fmt.Sprintf("at most %d are allowed", maxVariations))
	}
	if in.MediaURL != nil {
		if strings.TrimSpace(*in.MediaURL) == "" {
			in.MediaURL = nil
		} else if !govalidator.IsRequestURL(*in.MediaURL) {
			return appErrors.NewValidation("media_url", "must be an absolute URL")
		}
	}
	if _, err := uuid.Parse(in.GroupID); err != nil {
		return appErrors.NewValidation("group_id", "must be a valid id")
	}
	group, err := s.GroupRepo.GetGroup(ctx, in.GroupID)
	if err != nil {
		return err
	}
	if group == nil {
		return appErrors.NewValidation("group_id", "group does not exist")
	}
	return nil
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		ID:         uuid.NewString(),
		Title:      in.Title,
		GroupID:    in.GroupID,
		Message:    in.Message,
		Variations: in.Variations,
		MediaURL:   in.MediaURL,
		Status:     model.CampaignStatusDraft,
		CreatedAt:  s.now(),
	}
	if c.Variations == nil {
		c.Variations = []string{}
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.Log.Info().Str("campaign_id", c.ID).Msg("campaign created")
	return c, nil
}

// checkEditable enforces the editing rules: only draft, scheduled and
// paused campaigns change, campaigns with sent messages need an explicit
// override, and any edit made after messages exist is flagged as risky.
func (s *CampaignService) checkEditable(ctx context.Context, c *model.Campaign, override bool) (*UpdateResult, error) {
	if !c.IsEditable() {
		return nil, appErrors.NewInvalidTransition("edit", c.Status)
	}
	stats, err := s.MessageRepo.Stats(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if stats.Sent > 0 && !override {
		return nil, fmt.Errorf("campaign %s has %d sent messages: %w", c.ID, stats.Sent, appErrors.ErrCampaignLocked)
	}

	result := &UpdateResult{Campaign: c}
	if stats.Total > 0 {
		result.Risky = true
		result.Warning = fmt.Sprintf(
			"%d messages were already created; pending ones keep their original text", stats.Total,
		)
	}
	return result, nil
}

// store writes edited content. The update re-checks status and sent
// messages, so a tick that delivered in the meantime still locks the
// campaign.
func (s *CampaignService) store(ctx context.Context, c *model.Campaign, override bool) error {
	ok, err := s.CampaignRepo.Update(ctx, c, override)
	if err != nil || ok {
		return err
	}
	cur, err := s.CampaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if _, err := s.checkEditable(ctx, cur, override); err != nil {
		return err
	}
	return appErrors.NewInvalidTransition("edit", cur.Status)
}

func (s *CampaignService) UpdateCampaign(ctx context.Context, id string, in CampaignInput, override bool) (*UpdateResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.checkEditable(ctx, c, override)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	c.Title = in.Title
	c.GroupID = in.GroupID
	c.Message = in.Message
	c.Variations = in.Variations
	c.MediaURL = in.MediaURL
	if err := s.store(ctx, c, override); err != nil {
		return nil, err
	}

	if result.Risky {
		s.Log.Warn().Str("campaign_id", id).Str("status", c.Status).Msg("campaign edited after messages were created")
	}
	return result, nil
}

// GenerateVariations asks the LLM for alternate texts and stores them on
// the campaign.
func (s *CampaignService) GenerateVariations(ctx context.Context, id string, count int, override bool) (*UpdateResult, error) {
	if s.Variations == nil {
		return nil, fmt.Errorf("variation generator is not configured")
	}
	if count < 1 || count > maxVariations {
		return nil, appErrors.NewValidation("count", fmt.Sprintf("must be between 1 and %d", maxVariations))
	}

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.checkEditable(ctx, c, override)
	if err != nil {
		return nil, err
	}

	variations, err := s.Variations.Generate(ctx, c.Message, count)
	if err != nil {
		return nil, fmt.Errorf("failed to generate variations: %w", err)
	}
	c.Variations = variations
	if err := s.store(ctx, c, override); err != nil {
		return nil, err
	}

	s.Log.Info().Str("campaign_id", id).Int("variations", len(variations)).Msg("variations generated")
	return result, nil
}

// ScheduleCampaign queues a draft (or reschedules a scheduled campaign).
// A nil time means send on the next tick.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, id string, at *time.Time) (*model.Campaign, error) {
	now := s.now()
	when := now
	if at != nil {
		when = at.UTC()
	}

	ok, err := s.CampaignRepo.Schedule(ctx, id, when, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.rejectTransition(ctx, id, "schedule")
	}
	s.publish(EventScheduled, id, model.CampaignStatusScheduled)
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) UnscheduleCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	ok, err := s.CampaignRepo.Unschedule(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.rejectTransition(ctx, id, "unschedule")
	}
	s.publish(EventUnscheduled, id, model.CampaignStatusDraft)
	return s.CampaignRepo.GetByID(ctx, id)
}

// Activate moves a due campaign to processing and materializes one pending
// message per resolved recipient. false means another tick won the race or
// the campaign is no longer due.
func (s *CampaignService) Activate(ctx context.Context, id string, now time.Time) (bool, error) {
	activated, err := s.CampaignRepo.Activate(ctx, id, now, s.materialize)
	if err != nil {
		return false, err
	}
	if activated {
		s.publish(EventActivated, id, model.CampaignStatusProcessing)
	}
	return activated, nil
}

func (s *CampaignService) materialize(ctx context.Context, c *model.Campaign) ([]*model.CampaignMessage, error) {
	recipients, err := s.Resolver.Resolve(ctx, c.GroupID)
	if err != nil {
		return nil, err
	}

	msgs := make([]*model.CampaignMessage, 0, len(recipients))
	for i, r := range recipients {
		msgs = append(msgs, &model.CampaignMessage{
			ID:         uuid.NewString(),
			CampaignID: c.ID,
			CustomerID: r.CustomerID,
			Phone:      r.Phone,
			Text:       SelectVariant(c, i),
			Seq:        i,
			Status:     model.MessageStatusPending,
		})
	}

	s.Log.Info().Str("campaign_id", c.ID).Int("recipients", len(msgs)).Msg("campaign audience resolved")
	return msgs, nil
}

func (s *CampaignService) PauseCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, "pause", model.CampaignStatusProcessing, model.CampaignStatusPaused, EventPaused)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, "resume", model.CampaignStatusPaused, model.CampaignStatusProcessing, EventResumed)
}

func (s *CampaignService) transition(ctx context.Context, id, action, from, to, event string) (*model.Campaign, error) {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, id, from, to, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.rejectTransition(ctx, id, action)
	}
	s.publish(event, id, to)
	return s.CampaignRepo.GetByID(ctx, id)
}

// Complete closes a processing campaign once nothing is pending.
func (s *CampaignService) Complete(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.CampaignRepo.Complete(ctx, id, now)
	if err != nil {
		return false, err
	}
	if ok {
		s.publish(EventCompleted, id, model.CampaignStatusCompleted)
	}
	return ok, nil
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !c.IsDeletable() {
		return deleteRejection(c.Status)
	}

	ok, err := s.CampaignRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return s.rejectTransition(ctx, id, "delete")
	}
	s.publish(EventDeleted, id, "")
	return nil
}

func deleteRejection(status string) error {
	err := appErrors.NewInvalidTransition("delete", status)
	if status == model.CampaignStatusProcessing {
		return fmt.Errorf("%w: pause the campaign first, then delete it", err)
	}
	return err
}

// rejectTransition explains why a conditional update matched nothing.
func (s *CampaignService) rejectTransition(ctx context.Context, id, action string) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidTransition(action, c.Status)
}

// ListCampaigns fetches campaigns with pagination and per-campaign stats
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]CampaignView, map[string]int, error) {
	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}
	stats, err := s.MessageRepo.StatsForCampaigns(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	views := make([]CampaignView, len(campaigns))
	for i, c := range campaigns {
		views[i] = newView(c, stats[c.ID])
	}
	return views, pagination(page, pageSize, total), nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*CampaignView, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.MessageRepo.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	view := newView(c, stats)
	return &view, nil
}

func (s *CampaignService) ListMessages(ctx context.Context, id, status string, page, pageSize int) ([]*model.CampaignMessage, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, nil, err
	}
	page, pageSize = normalizePage(page, pageSize)
	msgs, total, err := s.MessageRepo.ListByCampaign(ctx, id, status, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return msgs, pagination(page, pageSize, total), nil
}

func (s *CampaignService) publish(event, campaignID, status string) {
	s.Metrics.Transition(event)
	if s.Events == nil {
		return
	}
	payload := model.CampaignEvent{Type: event, CampaignID: campaignID, Status: status, At: s.now()}
	if err := s.Events.Publish(queue.TopicCampaignEvents, payload); err != nil {
		s.Log.Warn().Err(err).Str("campaign_id", campaignID).Str("event", event).Msg("failed to publish campaign event")
	}
}

func newView(c *model.Campaign, stats model.MessageStats) CampaignView {
	return CampaignView{Campaign: c, Stats: stats, HasFailures: stats.Failed > 0}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}
