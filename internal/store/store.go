// Package store defines the persistent store interfaces the auth core
// depends on, with GORM-backed postgres implementations. The relational
// store owns users, tenants, and audit rows; the document store owns
// activity records.
package store

import (
	"context"
	"errors"
	"time"

	"authgate/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByEmail(ctx context.Context, tenantID uint, email string) (*models.User, error)
	FindByWallet(ctx context.Context, tenantID uint, address string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

type TenantStore interface {
	FindByID(ctx context.Context, id uint) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// EnsureDefault creates the default tenant if it is absent and returns it.
	EnsureDefault(ctx context.Context, slug string) (*models.Tenant, error)
}

// AuditStore is the relational audit-row sink.
type AuditStore interface {
	InsertBatch(ctx context.Context, records []models.AuditRecord) error
}

// ActivityStore is the document sink for activity records.
type ActivityStore interface {
	InsertBatch(ctx context.Context, records []models.ActivityRecord) error
	RecentByUser(ctx context.Context, tenantID, userID uint, limit int) ([]models.ActivityRecord, error)
}
