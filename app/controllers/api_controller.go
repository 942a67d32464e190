package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreditForge/app/repository"
	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
)

// requestTimeout bounds the store and gateway calls of one request.
const requestTimeout = 15 * time.Second

// QueueMonitor reports broker backlogs for the admin API.
type QueueMonitor interface {
	Depths(ctx context.Context) ([]jobqueue.QueueDepth, bool, error)
	Outcomes(ctx context.Context) (map[string]map[string]int64, error)
	IsRunning() bool
}

// Dependencies are the services the API controller calls through.
type Dependencies struct {
	Users      repository.UserRepository
	Ledger     *ledger.Service
	Billing    *billing.Reconciler
	Dispatcher *jobqueue.Dispatcher
	Queues     QueueMonitor
	Plans      *plans.Catalog
}

// APIController handles the JSON API using the injected services
type APIController struct {
	users      repository.UserRepository
	ledger     *ledger.Service
	billing    *billing.Reconciler
	dispatcher *jobqueue.Dispatcher
	queues     QueueMonitor
	catalog    *plans.Catalog
}

// NewAPIController creates the controller
func NewAPIController(deps Dependencies) *APIController {
	catalog := deps.Plans
	if catalog == nil {
		catalog = plans.Default()
	}
	return &APIController{
		users:      deps.Users,
		ledger:     deps.Ledger,
		billing:    deps.Billing,
		dispatcher: deps.Dispatcher,
		queues:     deps.Queues,
		catalog:    catalog,
	}
}

func (ac *APIController) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// HandlePlans lists the plan catalog.
func (ac *APIController) HandlePlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": ac.catalog.List()})
}
