package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Client is a deduplicated purchaser. Email and phone are stored normalized
// and each is unique when present.
type Client struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Name      string               `gorm:"column:name"`
	Email     *string              `gorm:"column:email;uniqueIndex:clients_email_key"`
	Phone     *string              `gorm:"column:phone;uniqueIndex:clients_phone_key"`
	Address   *types.Address       `gorm:"column:address;type:jsonb;serializer:json"`
	Metadata  types.ClientMetadata `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Client) TableName() string { return "clients" }

func (c *Client) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
