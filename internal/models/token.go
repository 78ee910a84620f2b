package models

import "time"

// RefreshToken represents a persisted refresh credential backing one
// session. Valid iff not revoked, not past expires_at, and not yet
// superseded by rotation (rotation revokes the old row).
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"userId"`
	Token     string     `db:"token" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	IPAddress string     `db:"ip_address" json:"ipAddress"`
	UserAgent string     `db:"user_agent" json:"userAgent"`
}
