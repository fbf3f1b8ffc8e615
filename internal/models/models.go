package models

import "time"

// Tenant is the isolation boundary. Every user, session, audit event, and
// rate-limit bucket belongs to exactly one tenant. The auth core reads
// tenants but never mutates them.
type Tenant struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string    `gorm:"uniqueIndex;not null" json:"slug"`
	Domain    *string   `json:"domain,omitempty"`
	Status    string    `gorm:"not null;default:active" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is unique per (tenant, email) and per (tenant, wallet). Wallet-only
// users carry an empty password hash; password login is refused for them.
type User struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      uint       `gorm:"not null;index;uniqueIndex:idx_users_tenant_email;uniqueIndex:idx_users_tenant_wallet" json:"tenant_id"`
	Email         *string    `gorm:"uniqueIndex:idx_users_tenant_email" json:"email,omitempty"`
	WalletAddress *string    `gorm:"uniqueIndex:idx_users_tenant_wallet" json:"wallet_address,omitempty"`
	PasswordHash  string     `json:"-"`
	Name          string     `json:"name"`
	Verified      bool       `gorm:"not null;default:false" json:"verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AuditRecord is the relational half of the audit pipeline: row-level
// mutations with before/after values. Append-only.
type AuditRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	TenantID  uint      `gorm:"index;not null" json:"tenant_id"`
	Action    string    `gorm:"not null" json:"action"`
	TableName string    `gorm:"not null;column:table_name" json:"table_name"`
	RecordID  string    `json:"record_id,omitempty"`
	OldValues JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"old_values"`
	NewValues JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"new_values"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityRecord is the document half of the audit pipeline: every
// meaningful action, with free-form details. UserID 0 means a system event.
// Append-only.
type ActivityRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	TenantID  uint      `gorm:"index;not null" json:"tenant_id"`
	Action    string    `gorm:"not null;index" json:"action"`
	Details   JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"details"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Severity  string    `gorm:"not null;default:info" json:"severity"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ActivityRecord) TableName() string { return "user_activities" }
