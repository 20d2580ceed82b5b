// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignManager is the authoring and lifecycle surface the controller
// exposes. *service.CampaignService implements it.
type CampaignManager interface {
	CreateCampaign(ctx context.Context, in service.CampaignInput) (*model.Campaign, error)
	UpdateCampaign(ctx context.Context, id string, in service.CampaignInput, override bool) (*service.UpdateResult, error)
	GenerateVariations(ctx context.Context, id string, count int, override bool) (*service.UpdateResult, error)
	ScheduleCampaign(ctx context.Context, id string, at *time.Time) (*model.Campaign, error)
	UnscheduleCampaign(ctx context.Context, id string) (*model.Campaign, error)
	PauseCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ResumeCampaign(ctx context.Context, id string) (*model.Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error
	ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]service.CampaignView, map[string]int, error)
	GetCampaign(ctx context.Context, id string) (*service.CampaignView, error)
	ListMessages(ctx context.Context, id, status string, page, pageSize int) ([]*model.CampaignMessage, map[string]int, error)
}

var _ CampaignManager = (*service.CampaignService)(nil)

type CampaignController struct {
	CampaignService CampaignManager
	Log             zerolog.Logger
}

// Routes mounts the campaign endpoints under /campaigns.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/", c.CreateCampaign)
	r.Get("/", c.ListCampaigns)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", c.GetCampaign)
		r.Put("/", c.UpdateCampaign)
		r.Delete("/", c.DeleteCampaign)
		r.Post("/schedule", c.ScheduleCampaign)
		r.Post("/unschedule", c.UnscheduleCampaign)
		r.Post("/pause", c.PauseCampaign)
		r.Post("/resume", c.ResumeCampaign)
		r.Post("/variations", c.GenerateVariations)
		r.Get("/messages", c.ListMessages)
	})
}

type campaignBody struct {
	service.CampaignInput
	Override bool `json:"override"`
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := c.CampaignService.GetCampaign(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body campaignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.UpdateCampaign(r.Context(), id, body.CampaignInput, body.Override)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := c.CampaignService.DeleteCampaign(r.Context(), id); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		ScheduledFor *time.Time `json:"scheduled_for"`
	}
	// an empty body schedules for the next tick
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	campaign, err := c.CampaignService.ScheduleCampaign(r.Context(), id, body.ScheduledFor)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.UnscheduleCampaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.PauseCampaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.ResumeCampaign)
}

func (c *CampaignController) lifecycle(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*model.Campaign, error)) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := action(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) GenerateVariations(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		Count    int  `json:"count"`
		Override bool `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.GenerateVariations(r.Context(), id, body.Count, body.Override)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	msgs, pagination, err := c.CampaignService.ListMessages(r.Context(), id, r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       msgs,
		"pagination": pagination,
	})
}

// campaignID rejects malformed IDs as not found before they reach the store.
func campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": appErrors.NewCampaignNotFound(id).Error()})
		return "", false
	}
	return id, true
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	var verr *appErrors.ErrValidation
	switch {
	case appErrors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "field": verr.Field})
	case errors.Is(err, appErrors.ErrInvalidTransition), errors.Is(err, appErrors.ErrCampaignLocked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		c.Log.Error().Err(err).Msg("campaign request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
