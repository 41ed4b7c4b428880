package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	defaultBatchSize     = 50
	defaultStaleClaimAge = 15 * time.Minute
	defaultClaimExpiry   = 72 * time.Hour
)

type staleClaimLister interface {
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type eventReprocessor interface {
	Reprocess(ctx context.Context, eventID string) (fulfillment.Outcome, error)
}

// StaleClaimsJobParams configure the sweep over orders stuck in processing.
type StaleClaimsJobParams struct {
	Logger      *logger.Logger
	Orders      orders.Repository
	Reprocessor eventReprocessor
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
}

// NewStaleClaimsJob builds the job that finishes or expires abandoned claims.
func NewStaleClaimsJob(params StaleClaimsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Reprocessor == nil {
		return nil, fmt.Errorf("event reprocessor required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleClaimAge
	}
	expireAfter := params.ExpireAfter
	if expireAfter <= staleAfter {
		expireAfter = defaultClaimExpiry
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &staleClaimsJob{
		logg:        params.Logger,
		orders:      params.Orders,
		reprocessor: params.Reprocessor,
		staleAfter:  staleAfter,
		expireAfter: expireAfter,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type staleClaimsJob struct {
	logg        *logger.Logger
	orders      orders.Repository
	reprocessor eventReprocessor
	staleAfter  time.Duration
	expireAfter time.Duration
	batch       int
	now         func() time.Time
}

func (j *staleClaimsJob) Name() string { return "stale-claims" }

func (j *staleClaimsJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	stale, err := j.orders.ListStaleProcessing(ctx, now.Add(-j.staleAfter), j.batch)
	if err != nil {
		return fmt.Errorf("query stale claims: %w", err)
	}

	var errs error
	reprocessed, expired, awaiting := 0, 0, 0
	for i := range stale {
		order := &stale[i]
		orderCtx := j.logg.WithPaymentRef(ctx, order.PaymentRef)
		eventID := order.Metadata.EventID
		expiredAge := order.CreatedAt.Before(now.Add(-j.expireAfter))
		if _, declined := orders.LastPaymentFailure(order); declined && eventID == "" && !expiredAge {
			awaiting++
			continue
		}
		if eventID == "" || expiredAge {
			if err := j.expire(orderCtx, order, now); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			expired++
			continue
		}

		outcome, err := j.reprocessor.Reprocess(orderCtx, eventID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reprocess %s: %w", order.PaymentRef, err))
			continue
		}
		j.logg.Info(orderCtx, fmt.Sprintf("stale claim reprocessed: %s", outcome))
		reprocessed++
	}

	j.logg.Info(ctx, fmt.Sprintf("stale claims: %d found, %d reprocessed, %d expired, %d awaiting payment retry", len(stale), reprocessed, expired, awaiting))
	return errs
}

// expire fails an abandoned claim. A claim whose only events were declined
// charges fails as a payment failure with the last decline reason.
func (j *staleClaimsJob) expire(ctx context.Context, order *models.Order, now time.Time) error {
	code := orders.FailureClaimExpired
	reason := fmt.Sprintf("claim unresolved since %s", order.CreatedAt.UTC().Format(time.RFC3339))
	if last, declined := orders.LastPaymentFailure(order); declined && order.Metadata.EventID == "" {
		code = orders.FailurePayment
		reason = last.Error
	}
	if _, err := orders.MarkFailed(ctx, j.orders, order, code, reason, now); err != nil {
		return fmt.Errorf("expire %s: %w", order.PaymentRef, err)
	}
	j.logg.Warn(ctx, "stale claim expired")
	return nil
}
