package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	campaignsvc "github.com/afroboost/campaign-scheduler/internal/service/campaign"
	"github.com/afroboost/campaign-scheduler/pkg/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	campaigns *campaignsvc.Service
	checks    map[string]HealthCheck
	logger    *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(campaigns *campaignsvc.Service, checks map[string]HealthCheck, log *logger.Logger) *HandlerSet {
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerSet{
		campaigns: campaigns,
		checks:    checks,
		logger:    log,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	campaigns := app.Group("/api/campaigns")
	campaigns.Get("/", h.listCampaigns)
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Delete("/:id", h.deleteCampaign)
	campaigns.Post("/:id/launch", h.launchCampaign)
	campaigns.Post("/:id/mark-sent", h.markSent)
	campaigns.Get("/:id/attempts", h.listAttempts)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", ctx.Path()))
		message = "internal error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	label := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		label = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": label, "errors": errs})
}
