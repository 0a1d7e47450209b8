package storage

import (
	"time"

	"github.com/google/uuid"
)

// ShortLink is the persisted mapping from a short code to a target URL.
// ShortCode is unique among active rows; inactive rows keep their code but no
// longer hold the slot, so the code may be reused.
type ShortLink struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ShortCode    string     `json:"short_code" db:"short_code"`
	TargetURL    string     `json:"target_url" db:"target_url"`
	OwnerID      uuid.UUID  `json:"owner_id" db:"owner_id"`
	Title        string     `json:"title,omitempty" db:"title"`
	Description  string     `json:"description,omitempty" db:"description"`
	Tags         []string   `json:"tags,omitempty" db:"tags"`
	PasswordHash *string    `json:"-" db:"password_hash"`
	ClickCount   int64      `json:"click_count" db:"click_count"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the link's expiry has passed at the given instant.
// Links without an expiry never expire.
func (l *ShortLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// ClickEvent is a single recorded access of a short link.
type ClickEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	LinkID     uuid.UUID `json:"link_id" db:"link_id"`
	OwnerID    uuid.UUID `json:"owner_id" db:"owner_id"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Referrer   string    `json:"referrer,omitempty" db:"referrer"`
	UserAgent  string    `json:"user_agent,omitempty" db:"user_agent"`
	IP         string    `json:"ip,omitempty" db:"ip"`
	DeviceType string    `json:"device_type" db:"device_type"`
}
