package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Invoice is the immutable document generated once per paid order, plus its
// delivery state.
type Invoice struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:invoices_order_id_key"`
	EventID         string                `gorm:"column:event_id"`
	Number          string                `gorm:"column:number;not null"`
	Recipient       string                `gorm:"column:recipient"`
	Snapshot        types.InvoiceSnapshot `gorm:"column:snapshot;type:jsonb;serializer:json"`
	Artifact        []byte                `gorm:"column:artifact"`
	ContentType     string                `gorm:"column:content_type"`
	Sent            bool                  `gorm:"column:sent;not null;default:false"`
	SendError       *string               `gorm:"column:send_error"`
	SentAt          *time.Time            `gorm:"column:sent_at"`
	LastAttemptAt   *time.Time            `gorm:"column:last_attempt_at"`
	AttemptCount    int                   `gorm:"column:attempt_count;not null;default:0"`
	AdminNotified   bool                  `gorm:"column:admin_notified;not null;default:false"`
	AdminNotifiedAt *time.Time            `gorm:"column:admin_notified_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
