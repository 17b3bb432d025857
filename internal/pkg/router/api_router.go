package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cadencepay/cadence/app/controllers"
	"github.com/cadencepay/cadence/internal/pkg/middleware"
)

// ApiRouter installs the internal API group, guarded by the shared-key
// middleware.
type ApiRouter struct {
	jobs *controllers.JobController
}

func NewApiRouter(jobs *controllers.JobController) *ApiRouter {
	return &ApiRouter{jobs: jobs}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	internal := app.Group("/api/internal", middleware.InternalAPIKeyMiddleware())
	internal.Post("/jobs/run-cycle", h.jobs.HandleRunCycle)
}
