// Package app assembles the reconciliation pipeline shared by the API and the
// cron worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-backend/internal/clients"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/internal/invoices"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/refunds"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/pubsub"
	"github.com/angelmondragon/fulfillment-backend/pkg/stripe"
)

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
}

// Components is the wired pipeline. PubSub is nil when admin alerts are only
// delivered by email.
type Components struct {
	Orders      orders.Repository
	Invoices    invoices.Repository
	Stripe      *stripe.Client
	Mailer      *mailer.Client
	PubSub      *pubsub.Client
	Alerter     *notifications.Alerter
	Dispatcher  *invoices.Dispatcher
	Fulfillment *fulfillment.Service
	Refunds     *refunds.Service
	Metrics     *metrics.FulfillmentMetrics

	logg *logger.Logger
}

func Build(ctx context.Context, params Params) (*Components, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	cfg := params.Config
	logg := params.Logger

	c := &Components{
		Orders:   orders.NewRepository(params.DB.DB()),
		Invoices: invoices.NewRepository(params.DB.DB()),
		Metrics:  metrics.NewFulfillmentMetrics(params.Registerer),
		logg:     logg,
	}

	var err error
	if c.Stripe, err = stripe.NewClient(ctx, cfg.Stripe, logg); err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	if c.Mailer, err = mailer.NewClient(cfg.Sendgrid); err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}

	alerterParams := notifications.AlerterParams{
		Mailer:     c.Mailer,
		AdminEmail: cfg.Fulfillment.AdminEmail,
		Logger:     logg,
	}
	if cfg.PubSub.Enabled(cfg.GCP) {
		if c.PubSub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg); err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		alerterParams.Publisher = c.PubSub
	} else {
		logg.Warn(ctx, "pubsub disabled, admin alerts go to email only")
	}
	if c.Alerter, err = notifications.NewAlerter(alerterParams); err != nil {
		return nil, c.fail(fmt.Errorf("alerter: %w", err))
	}

	if c.Dispatcher, err = invoices.NewDispatcher(invoices.DispatcherParams{
		Repository: c.Invoices,
		Mailer:     c.Mailer,
		Alerter:    c.Alerter,
		Logger:     logg,
		Metrics:    c.Metrics,
		StoreName:  cfg.Fulfillment.StoreName,
		Timeout:    cfg.Fulfillment.DispatchTimeout,
	}); err != nil {
		return nil, c.fail(fmt.Errorf("invoice dispatcher: %w", err))
	}

	identity, err := clients.NewService(clients.ServiceParams{
		Repository: clients.NewRepository(params.DB.DB()),
	})
	if err != nil {
		return nil, c.fail(fmt.Errorf("identity resolver: %w", err))
	}

	if c.Fulfillment, err = fulfillment.NewService(fulfillment.ServiceParams{
		Orders:            c.Orders,
		Stock:             inventory.NewEngine(c.Metrics),
		Identity:          identity,
		Invoices:          c.Dispatcher,
		Alerter:           c.Alerter,
		Gateway:           c.Stripe,
		TransactionRunner: params.DB,
		Logger:            logg,
		Metrics:           c.Metrics,
		DefaultCurrency:   cfg.Fulfillment.DefaultCurrency,
		Tolerance:         cfg.Fulfillment.RefundTolerance,
	}); err != nil {
		return nil, c.fail(fmt.Errorf("fulfillment service: %w", err))
	}

	if c.Refunds, err = refunds.NewService(refunds.ServiceParams{
		Orders:            c.Orders,
		Gateway:           c.Stripe,
		Mailer:            c.Mailer,
		TransactionRunner: params.DB,
		Logger:            logg,
		Metrics:           c.Metrics,
		Tolerance:         cfg.Fulfillment.RefundTolerance,
	}); err != nil {
		return nil, c.fail(fmt.Errorf("refund service: %w", err))
	}

	return c, nil
}

// Close drains background invoice and alert work, then releases clients.
func (c *Components) Close(ctx context.Context) {
	if c.Fulfillment != nil {
		c.Fulfillment.Wait()
	}
	if c.Dispatcher != nil {
		c.Dispatcher.Wait()
	}
	if c.PubSub != nil {
		if err := c.PubSub.Close(); err != nil {
			c.logg.Error(ctx, "error closing pubsub", err)
		}
	}
}

func (c *Components) fail(err error) error {
	if c.PubSub != nil {
		_ = c.PubSub.Close()
	}
	return err
}
