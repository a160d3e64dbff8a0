package repository

import (
	"context"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"

	"gorm.io/gorm"
)

type auditSink struct {
	db *gorm.DB
}

// NewAuditSink creates an AuditSink backed by the append-only audit_records table
func NewAuditSink(db *gorm.DB) ports.AuditSink {
	return &auditSink{db: db}
}

func (s *auditSink) Record(ctx context.Context, record *domain.AuditRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}
