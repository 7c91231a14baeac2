package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/afroboost/campaign-scheduler/internal/domain"
	campaignsvc "github.com/afroboost/campaign-scheduler/internal/service/campaign"
)

type createCampaignRequest struct {
	Name             string          `json:"name"`
	Message          string          `json:"message"`
	MediaURL         string          `json:"mediaUrl"`
	MediaFormat      string          `json:"mediaFormat"`
	TargetType       string          `json:"targetType"`
	SelectedContacts []string        `json:"selectedContacts"`
	Channels         map[string]bool `json:"channels"`
	ScheduledAt      *string         `json:"scheduledAt"`
	ScheduledDates   []string        `json:"scheduledDates"`
}

type updateCampaignRequest struct {
	Name             *string          `json:"name"`
	Message          *string          `json:"message"`
	MediaURL         *string          `json:"mediaUrl"`
	MediaFormat      *string          `json:"mediaFormat"`
	TargetType       *string          `json:"targetType"`
	SelectedContacts *[]string        `json:"selectedContacts"`
	Channels         *map[string]bool `json:"channels"`
	ScheduledAt      *string          `json:"scheduledAt"`
	ScheduledDates   *[]string        `json:"scheduledDates"`
	Status           *string          `json:"status"`
}

type markSentRequest struct {
	ContactID string `json:"contactId"`
	Channel   string `json:"channel"`
}

type campaignResponse struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Message          string                `json:"message"`
	MediaURL         string                `json:"mediaUrl"`
	MediaFormat      string                `json:"mediaFormat"`
	TargetType       string                `json:"targetType"`
	SelectedContacts []string              `json:"selectedContacts"`
	Channels         map[string]bool       `json:"channels"`
	ScheduledAt      *string               `json:"scheduledAt"`
	ScheduledDates   []string              `json:"scheduledDates"`
	SentDates        []string              `json:"sentDates"`
	Status           string                `json:"status"`
	Results          []domain.ResultRecord `json:"results"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	LastProcessedAt  *time.Time            `json:"lastProcessedAt,omitempty"`
}

type attemptResponse struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contactId"`
	Channel     string    `json:"channel"`
	Attempt     int       `json:"attempt"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	DryRun      bool      `json:"dryRun"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.CreateCampaignInput{
		Name:             req.Name,
		Message:          req.Message,
		MediaURL:         req.MediaURL,
		MediaFormat:      req.MediaFormat,
		TargetType:       domain.TargetType(req.TargetType),
		SelectedContacts: req.SelectedContacts,
		ScheduledAt:      req.ScheduledAt,
		ScheduledDates:   req.ScheduledDates,
	}
	if req.Channels != nil {
		input.Channels = toDomainChannels(req.Channels)
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))

	campaigns, err := h.campaigns.List(ctx.Context(), limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		resp = append(resp, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	campaign, err := h.campaigns.Get(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:               ctx.Params("id"),
		Name:             req.Name,
		Message:          req.Message,
		MediaURL:         req.MediaURL,
		MediaFormat:      req.MediaFormat,
		SelectedContacts: req.SelectedContacts,
		ScheduledAt:      req.ScheduledAt,
		ScheduledDates:   req.ScheduledDates,
	}
	if req.TargetType != nil {
		tt := domain.TargetType(*req.TargetType)
		input.TargetType = &tt
	}
	if req.Channels != nil {
		channels := toDomainChannels(*req.Channels)
		input.Channels = &channels
	}
	if req.Status != nil {
		st := domain.CampaignStatus(*req.Status)
		input.Status = &st
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) deleteCampaign(ctx *fiber.Ctx) error {
	if err := h.campaigns.Delete(ctx.Context(), ctx.Params("id")); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

func (h *HandlerSet) launchCampaign(ctx *fiber.Ctx) error {
	campaign, err := h.campaigns.Launch(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) markSent(ctx *fiber.Ctx) error {
	var req markSentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.MarkSent(ctx.Context(), ctx.Params("id"), req.ContactID, domain.Channel(req.Channel))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true, "status": campaign.Status})
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))

	page, err := h.campaigns.ListAttempts(ctx.Context(), ctx.Params("id"), limit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(page.Attempts)), NextPage: page.NextToken}
	for _, a := range page.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:          a.ID,
			ContactID:   a.ContactID,
			Channel:     string(a.Channel),
			Attempt:     a.Attempt,
			OK:          a.OK,
			Error:       a.Error,
			DryRun:      a.DryRun,
			AttemptedAt: a.AttemptedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toDomainChannels(in map[string]bool) map[domain.Channel]bool {
	out := make(map[domain.Channel]bool, len(in))
	for k, v := range in {
		out[domain.Channel(k)] = v
	}
	return out
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	channels := make(map[string]bool, len(c.Channels))
	for k, v := range c.Channels {
		channels[string(k)] = v
	}
	resp := campaignResponse{
		ID:               c.ID,
		Name:             c.Name,
		Message:          c.Message,
		MediaURL:         c.MediaURL,
		MediaFormat:      c.MediaFormat,
		TargetType:       string(c.TargetType),
		SelectedContacts: c.SelectedContacts,
		Channels:         channels,
		ScheduledAt:      c.ScheduledAt,
		ScheduledDates:   c.ScheduledDates,
		SentDates:        c.SentDates,
		Status:           string(c.Status),
		Results:          c.Results,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		LastProcessedAt:  c.LastProcessedAt,
	}
	if resp.SelectedContacts == nil {
		resp.SelectedContacts = []string{}
	}
	if resp.ScheduledDates == nil {
		resp.ScheduledDates = []string{}
	}
	if resp.SentDates == nil {
		resp.SentDates = []string{}
	}
	if resp.Results == nil {
		resp.Results = []domain.ResultRecord{}
	}
	return resp
}
