package services

import (
	"context"

	"github.com/upb/authgateway/models"
)

// AuditRecorder receives auth audit events. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, log *models.AuditLog)
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, *models.AuditLog) {}

func recorderOrNoop(r AuditRecorder) AuditRecorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
