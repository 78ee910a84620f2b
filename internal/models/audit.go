package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionRegister       = "REGISTER"
	AuditActionLogin          = "LOGIN"
	AuditActionRefresh        = "TOKEN_REFRESH"
	AuditActionLogout         = "LOGOUT"
	AuditActionLogoutAll      = "LOGOUT_ALL"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"userId,omitempty"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress string    `db:"ip_address" json:"ipAddress"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
