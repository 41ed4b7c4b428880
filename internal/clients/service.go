package clients

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const (
	createSavepoint = "client_create"
	mergeSavepoint  = "client_merge"
)

// Signals are the identity hints carried by a payment event.
type Signals struct {
	// Explicit is set when the event carried a customer block, even an empty one.
	Explicit      bool
	Name          string
	Email         string
	Phone         string
	Address       *types.Address
	FallbackEmail string
	OrderRef      string
	Sources       []string
}

type ServiceParams struct {
	Repository Repository
	Clock      func() time.Time
}

// Service resolves purchase identities against the client registry.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, errors.New("clients repository required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repository, now: now}, nil
}

// Resolve returns the client for sig inside tx, merging into an existing
// record or creating one. It returns nil when the event carries no identity.
func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, sig Signals) (*models.Client, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	email := NormalizeEmail(sig.Email)
	if email == "" {
		email = NormalizeEmail(sig.FallbackEmail)
	}
	phone := NormalizePhone(sig.Phone)
	if email == "" && phone == "" && !sig.Explicit {
		return nil, nil
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup client")
	}
	if existing != nil {
		return s.merge(ctx, tx, repo, existing, sig, email, phone)
	}

	now := s.now().UTC()
	client := &models.Client{
		Name:    strings.TrimSpace(sig.Name),
		Email:   optional(email),
		Phone:   optional(phone),
		Address: usableAddress(sig.Address),
		Metadata: types.ClientMetadata{
			FirstSeenAt:   now,
			LastSeenAt:    now,
			LastOrderRef:  sig.OrderRef,
			PurchaseCount: 1,
			Sources:       lo.Uniq(sig.Sources),
		},
	}

	// A failed INSERT aborts a Postgres transaction, so the create runs
	// behind a savepoint that the race path can roll back to.
	if err := tx.SavePoint(createSavepoint).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "client savepoint")
	}
	err = repo.Create(ctx, client)
	if err == nil {
		return client, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create client")
	}

	if rbErr := tx.RollbackTo(createSavepoint).Error; rbErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback client savepoint")
	}
	winner, err := repo.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup client after conflict")
	}
	if winner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "client vanished after unique conflict")
	}
	return s.merge(ctx, tx, repo, winner, sig, email, phone)
}

// merge overwrites fields only with non-empty incoming values. When the
// incoming email or phone already belongs to another client the existing key
// is kept instead.
func (s *Service) merge(ctx context.Context, tx *gorm.DB, repo Repository, client *models.Client, sig Signals, email, phone string) (*models.Client, error) {
	originalEmail, originalPhone := client.Email, client.Phone

	if name := strings.TrimSpace(sig.Name); name != "" {
		client.Name = name
	}
	if addr := usableAddress(sig.Address); addr != nil {
		client.Address = addr
	}
	if email != "" {
		client.Email = optional(email)
	}
	if phone != "" {
		client.Phone = optional(phone)
	}

	now := s.now().UTC()
	if client.Metadata.FirstSeenAt.IsZero() {
		client.Metadata.FirstSeenAt = now
	}
	client.Metadata.LastSeenAt = now
	client.Metadata.PurchaseCount++
	if sig.OrderRef != "" {
		client.Metadata.LastOrderRef = sig.OrderRef
	}
	client.Metadata.Sources = lo.Uniq(append(client.Metadata.Sources, sig.Sources...))

	if err := saveMerged(ctx, tx, repo, client, originalEmail, originalPhone); err != nil {
		return nil, err
	}
	return client, nil
}

func saveMerged(ctx context.Context, tx *gorm.DB, repo Repository, client *models.Client, originalEmail, originalPhone *string) error {
	if err := tx.SavePoint(mergeSavepoint).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "client savepoint")
	}
	err := repo.Save(ctx, client)
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save client")
	}
	if rbErr := tx.RollbackTo(mergeSavepoint).Error; rbErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback client savepoint")
	}
	client.Email, client.Phone = originalEmail, originalPhone
	if err := repo.Save(ctx, client); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save client")
	}
	return nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func usableAddress(addr *types.Address) *types.Address {
	if addr == nil || addr.IsZero() {
		return nil
	}
	copied := *addr
	return &copied
}
