package clients

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/repo"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

type repository struct {
	repo.Base
}

// NewRepository builds a clients repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// FindByEmailOrPhone runs one OR query over both keys. An email match wins
// over a phone match when they point at different clients. Returns nil when
// nothing matches.
func (r *repository) FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.Client, error) {
	q := r.DB(ctx).Model(&models.Client{})
	switch {
	case email != "" && phone != "":
		q = q.Where("email = ? OR phone = ?", email, phone).
			Order(gorm.Expr("CASE WHEN email = ? THEN 0 ELSE 1 END", email))
	case email != "":
		q = q.Where("email = ?", email)
	case phone != "":
		q = q.Where("phone = ?", phone)
	default:
		return nil, nil
	}

	var client models.Client
	if err := q.Order("created_at ASC").Take(&client).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}

func (r *repository) Create(ctx context.Context, client *models.Client) error {
	return r.DB(ctx).Create(client).Error
}

func (r *repository) Save(ctx context.Context, client *models.Client) error {
	return r.DB(ctx).Save(client).Error
}
