package application

import (
	"context"
	"encoding/json"
	"log"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
)

type AuditService struct {
	repo domain.FormRepository
}

type Health struct {
	Status        string `json:"status"`
	SchemaVersion int64  `json:"schemaVersion"`
}

func NewAuditService(repo domain.FormRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *AuditService) Health(ctx context.Context) (Health, error) {
	version, err := s.repo.SchemaVersion(ctx)
	if err != nil {
		return Health{Status: "degraded"}, err
	}
	return Health{Status: "ok", SchemaVersion: version}, nil
}

// writeAudit records a mutation. A failed audit write is logged and never
// fails the mutation that triggered it.
func writeAudit(ctx context.Context, repo domain.FormRepository, action, targetType, targetKey string, metadata map[string]any) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		raw = []byte("{}")
	}
	if err := repo.CreateAuditLog(ctx, domain.AuditLog{
		Action:     action,
		TargetType: targetType,
		TargetKey:  targetKey,
		Metadata:   string(raw),
	}); err != nil {
		log.Printf("audit %s %s: %v", action, targetKey, err)
	}
}
