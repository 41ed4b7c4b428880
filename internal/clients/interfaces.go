package clients

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for the client registry.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.Client, error)
	Create(ctx context.Context, client *models.Client) error
	Save(ctx context.Context, client *models.Client) error
}
