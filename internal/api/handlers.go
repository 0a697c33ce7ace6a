package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/requestid"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine *Engine
	logger zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *Engine, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// SubmitProject handles POST /api/v1/projects.
func (h *Handlers) SubmitProject(c *fiber.Ctx) error {
	var req SubmitProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	run, err := h.engine.Submit(req.Request, actorOf(c))
	if err != nil {
		return errorResponse(c, err)
	}
	logger := requestid.Logger(c.UserContext(), h.logger)
	logger.Info().
		Str("project_id", run.ID).
		Str("actor", run.SubmittedBy).
		Str("status", string(run.Status)).
		Msg("project submitted")
	c.Location("/api/v1/projects/" + run.ID)
	return c.Status(fiber.StatusAccepted).JSON(run)
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	var q ListProjectsQuery
	if err := c.QueryParser(&q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_query", "Bad Request",
			"Invalid query parameters: "+err.Error())
	}

	runs, total, err := h.engine.List(c.UserContext(), q)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(ListProjectsResponse{Projects: runs, Total: total})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	run, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(run)
}

// CancelProject handles DELETE /api/v1/projects/:id. Cancellation is
// asynchronous; poll the project to observe the Failed phase.
func (h *Handlers) CancelProject(c *fiber.Ctx) error {
	run, err := h.engine.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	logger := requestid.Logger(c.UserContext(), h.logger)
	logger.Info().
		Str("project_id", run.ID).
		Str("actor", actorOf(c)).
		Msg("project cancel requested")
	return c.Status(fiber.StatusAccepted).JSON(run)
}
