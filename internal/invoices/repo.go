package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/repo"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

type repository struct {
	repo.Base
}

// NewRepository builds an invoices repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.DB(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.DB(ctx).Where("id = ?", id).Take(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.DB(ctx).Where("order_id = ?", orderID).Take(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// RecordDelivery stores the outcome of one send attempt as a single-row update.
func (r *repository) RecordDelivery(ctx context.Context, id uuid.UUID, sendErr error, at time.Time) error {
	updates := map[string]any{
		"last_attempt_at": at,
		"attempt_count":   gorm.Expr("attempt_count + 1"),
	}
	if sendErr == nil {
		updates["sent"] = true
		updates["sent_at"] = at
		updates["send_error"] = nil
	} else {
		updates["sent"] = false
		updates["send_error"] = sendErr.Error()
	}
	return r.DB(ctx).Model(&models.Invoice{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) MarkAdminNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB(ctx).Model(&models.Invoice{}).Where("id = ?", id).Updates(map[string]any{
		"admin_notified":    true,
		"admin_notified_at": at,
	}).Error
}

// ListResendable returns unsent invoices under the attempt limit whose last
// attempt is older than the cutoff. Invoices never attempted must also have
// been created before the cutoff, since their first send may still be running.
func (r *repository) ListResendable(ctx context.Context, lastAttemptBefore time.Time, maxAttempts, limit int) ([]models.Invoice, error) {
	var out []models.Invoice
	err := r.DB(ctx).
		Where("sent = ? AND attempt_count < ?", false, maxAttempts).
		Where("(last_attempt_at IS NULL AND created_at < ?) OR last_attempt_at < ?", lastAttemptBefore, lastAttemptBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
