package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"authgate/internal/models"
)

type GormUsers struct{ db *gorm.DB }

func NewGormUsers(db *gorm.DB) *GormUsers { return &GormUsers{db: db} }

func (s *GormUsers) Create(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *GormUsers) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormUsers) FindByEmail(ctx context.Context, tenantID uint, email string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		First(&u, "tenant_id = ? AND email = ?", tenantID, strings.ToLower(email)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormUsers) FindByWallet(ctx context.Context, tenantID uint, address string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		First(&u, "tenant_id = ? AND wallet_address = ?", tenantID, strings.ToLower(address)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormUsers) Update(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now()
	return translate(s.db.WithContext(ctx).Save(u).Error)
}

func (s *GormUsers) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	return translate(s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_login_at": at, "updated_at": at}).Error)
}

type GormTenants struct{ db *gorm.DB }

func NewGormTenants(db *gorm.DB) *GormTenants { return &GormTenants{db: db} }

func (s *GormTenants) FindByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormTenants) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.db.WithContext(ctx).First(&t, "slug = ?", slug).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormTenants) EnsureDefault(ctx context.Context, slug string) (*models.Tenant, error) {
	t, err := s.FindBySlug(ctx, slug)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	created := &models.Tenant{Slug: slug, Status: "active"}
	if err := s.db.WithContext(ctx).Create(created).Error; err != nil {
		// Lost a race with another replica; re-read.
		if errors.Is(translate(err), ErrDuplicate) {
			return s.FindBySlug(ctx, slug)
		}
		return nil, translate(err)
	}
	return created, nil
}

type GormAudit struct{ db *gorm.DB }

func NewGormAudit(db *gorm.DB) *GormAudit { return &GormAudit{db: db} }

func (s *GormAudit) InsertBatch(ctx context.Context, records []models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&records).Error)
}

type GormActivities struct{ db *gorm.DB }

func NewGormActivities(db *gorm.DB) *GormActivities { return &GormActivities{db: db} }

func (s *GormActivities) InsertBatch(ctx context.Context, records []models.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&records).Error)
}

func (s *GormActivities) RecentByUser(ctx context.Context, tenantID, userID uint, limit int) ([]models.ActivityRecord, error) {
	var out []models.ActivityRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// translate maps gorm errors onto the store sentinels. Requires the DB to be
// opened with TranslateError so unique violations surface as ErrDuplicatedKey.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
