package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-backend/internal/repo"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

var errColumnsRequired = errors.New("at least one column is required")

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// Claim inserts a processing placeholder for paymentRef unless one exists and
// returns the stored row. The bool reports whether this call created it.
func (r *repository) Claim(ctx context.Context, paymentRef, eventID string) (*models.Order, bool, error) {
	placeholder := &models.Order{
		PaymentRef: paymentRef,
		Status:     enums.OrderStatusProcessing,
		Items:      []types.OrderItem{},
		Metadata:   types.OrderMetadata{EventID: eventID},
	}
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_ref"}},
			DoNothing: true,
		}).
		Create(placeholder)
	if res.Error != nil {
		return nil, false, res.Error
	}

	stored, err := r.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected > 0, nil
}

func (r *repository) FindByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).Where("payment_ref = ?", paymentRef).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.Locked(ctx).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	var order models.Order
	if err := r.Locked(ctx).Where("payment_ref = ?", paymentRef).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateIfStatus writes the named columns from order only while the stored
// status still equals expected. It reports whether the row was updated.
func (r *repository) UpdateIfStatus(ctx context.Context, order *models.Order, expected enums.OrderStatus, columns ...string) (bool, error) {
	if len(columns) == 0 {
		return false, errColumnsRequired
	}
	res := r.DB(ctx).
		Model(order).
		Where("status = ?", expected).
		Select(columns).
		Updates(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListStaleProcessing returns claims still processing since before, oldest first.
func (r *repository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	err := r.DB(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusProcessing, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListPaidWithoutInvoice returns paid orders with no invoice row, paid before the cutoff.
func (r *repository) ListPaidWithoutInvoice(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	err := r.DB(ctx).
		Where("status = ? AND paid_at < ?", enums.OrderStatusPaid, before).
		Where("NOT EXISTS (SELECT 1 FROM invoices WHERE invoices.order_id = orders.id)").
		Order("paid_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// List pages through orders newest first.
func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.DB(ctx).Model(&models.Order{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return pagination.Page[models.Order]{}, err
	}

	return pagination.Paginate(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}
