package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/cadencepay/cadence/internal/pkg/billing"
)

// JobController exposes the billing cycle as an internal HTTP trigger so an
// external cron can drive it.
type JobController struct {
	scheduler *billing.Scheduler
}

func NewJobController(scheduler *billing.Scheduler) *JobController {
	return &JobController{scheduler: scheduler}
}

// HandleRunCycle is POST /api/internal/jobs/run-cycle.
func (jc *JobController) HandleRunCycle(c *fiber.Ctx) error {
	result, err := jc.scheduler.RunCycle(c.Context())
	if err != nil {
		if errors.Is(err, billing.ErrLockContended) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "conflict",
				"message": "A billing cycle is already running",
			})
		}
		log.Errorf("[Scheduler] cycle trigger failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Billing cycle failed",
		})
	}

	charged := 0
	for _, ok := range result.Processed {
		if ok {
			charged++
		}
	}
	return c.JSON(fiber.Map{
		"agreements_due": len(result.NewPending),
		"processed":      len(result.Processed),
		"charged":        charged,
	})
}
