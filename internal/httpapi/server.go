// Package httpapi exposes the sync service over HTTP: the inbound webhook the
// spreadsheet calls, the dashboard routes and the operational endpoints.
package httpapi

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"sheetsync/internal/domain"
	"sheetsync/internal/service"
)

// Handler serves the /api/sync routes.
type Handler struct {
	svc    *service.SyncService
	logger *log.Logger
}

// NewHandler creates a Handler. If logger is nil, a default logger writing to
// stderr is used.
func NewHandler(svc *service.SyncService, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[http] ", log.LstdFlags)
	}
	return &Handler{svc: svc, logger: logger}
}

// NewApp builds the fiber app with every route registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "sheetsync",
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
	})
	app.Get("/health", h.Health)
	RegisterSyncRoutes(app, h)
	return app
}

// RegisterSyncRoutes mounts the sync API under /api/sync.
func RegisterSyncRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api/sync", middleware...)

	api.Post("/webhook", h.Webhook)
	api.Get("/data", h.ListRecords)
	api.Put("/update", h.UpdateCell)
	api.Delete("/rows/:id", h.DeleteRow)
	api.Post("/reconcile", h.Reconcile)
	api.Get("/schema", h.Schema)

	api.Get("/jobs/dead", h.DeadJobs)
	api.Post("/jobs/:id/retry", h.RetryJob)
	api.Get("/jobs/stats", h.JobStats)

	api.Post("/poll", h.Poll)
	api.Get("/checkpoint", h.Checkpoint)
}

// --- Health ---

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "UP", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// --- Inbound ---

func (h *Handler) Webhook(c *fiber.Ctx) error {
	var req domain.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return badPayload(c)
	}
	res, err := h.svc.Ingest(c.UserContext(), req)
	if err != nil {
		return err
	}
	if res.Status == domain.StatusQueued {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.JSON(res)
}

// --- Dashboard ---

func (h *Handler) ListRecords(c *fiber.Ctx) error {
	recs, err := h.svc.ListRecords(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(recs)
}

func (h *Handler) UpdateCell(c *fiber.Ctx) error {
	var u domain.CellUpdate
	if err := c.BodyParser(&u); err != nil {
		return badPayload(c)
	}
	if err := h.svc.UpdateCell(c.UserContext(), u); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Update successful"})
}

func (h *Handler) DeleteRow(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.svc.DeleteRow(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"superjoin_id": id, "deleted": true})
}

func (h *Handler) Schema(c *fiber.Ctx) error {
	snap, err := h.svc.Schema(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

// --- Reconcile ---

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	var req domain.ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return badPayload(c)
	}
	res, err := h.svc.Reconcile(c.UserContext(), req)
	switch {
	case errors.Is(err, domain.ErrPartialReconcile):
		// The caller still needs the result to see what went through.
		return c.Status(fiber.StatusMultiStatus).JSON(res)
	case err != nil:
		return err
	}
	return c.JSON(res)
}

// --- Queue ---

func (h *Handler) DeadJobs(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("INVALID_PAYLOAD", "limit must be a positive integer"))
	}
	jobs, err := h.svc.DeadJobs(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(jobs)
}

func (h *Handler) RetryJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.svc.RetryJob(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id, "status": domain.JobPending})
}

func (h *Handler) JobStats(c *fiber.Ctx) error {
	stats, err := h.svc.QueueStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// --- Poller ---

func (h *Handler) Poll(c *fiber.Ctx) error {
	res, err := h.svc.PollNow(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handler) Checkpoint(c *fiber.Ctx) error {
	cp, err := h.svc.Checkpoint(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(cp)
}

// --- Errors ---

func badPayload(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody("INVALID_PAYLOAD", "Invalid JSON body"))
}

func errorBody(code, message string) fiber.Map {
	return fiber.Map{"error": fiber.Map{"code": code, "message": message}}
}

// handleError maps domain errors to status codes. Anything unclassified is a
// 500 and gets logged.
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(errorBody("HTTP_ERROR", fe.Message))
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("INVALID_PAYLOAD", err.Error()))
	case errors.Is(err, domain.ErrInvalidColumn):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("INVALID_COLUMN", err.Error()))
	case errors.Is(err, domain.ErrProtectedColumn):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("PROTECTED_COLUMN", err.Error()))
	case errors.Is(err, domain.ErrUnknownColumn):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("UNKNOWN_COLUMN", err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", err.Error()))
	case errors.Is(err, domain.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(errorBody("BUSY", err.Error()))
	case errors.Is(err, domain.ErrQueueClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody("UNAVAILABLE", err.Error()))
	}
	h.logger.Printf("%s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL", "internal error"))
}
