package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of auth event being recorded
type AuditAction string

const (
	AuditActionLoginSucceeded  AuditAction = "login_succeeded"
	AuditActionLoginFailed     AuditAction = "login_failed"
	AuditActionTokenRefreshed  AuditAction = "token_refreshed"
	AuditActionRefreshRejected AuditAction = "refresh_rejected"
	AuditActionLogout          AuditAction = "logout"
	AuditActionProfileUpdated  AuditAction = "profile_updated"
	AuditActionProfileSynced   AuditAction = "profile_synced"
	AuditActionUserDeleted     AuditAction = "user_deleted"
)

// AuditLog is one entry of the authentication audit trail
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       *int64          `json:"user_id,omitempty" db:"user_id"`
	Action       AuditAction     `json:"action" db:"action"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "auth_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the user ID
func (a *AuditLog) WithUser(userID int64) *AuditLog {
	a.UserID = &userID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithError records why the action failed
func (a *AuditLog) WithError(err error) *AuditLog {
	if err != nil {
		msg := err.Error()
		a.ErrorMessage = &msg
	}
	return a
}
