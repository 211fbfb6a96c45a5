package services

import (
	"context"
	"strings"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

type DepartmentInput struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// DepartmentService maintains the department directory. Departments are
// written straight to the durable store.
type DepartmentService struct {
	repo  repositories.DepartmentRepository
	clock clock.Clock
}

func NewDepartmentService(repo repositories.DepartmentRepository, clk clock.Clock) *DepartmentService {
	return &DepartmentService{repo: repo, clock: clk}
}

// Save creates a department, or renames it when in.ID already exists in the tenant.
func (s *DepartmentService) Save(ctx context.Context, tenantID string, in DepartmentInput) (chat.Department, error) {
	name := strings.TrimSpace(in.Name)
	if tenantID == "" || name == "" {
		return chat.Department{}, apperrors.Validation("department needs a tenant and a name")
	}
	now := s.clock.Now().UTC()
	d := chat.Department{ID: in.ID, TenantID: tenantID, Name: name, Email: strings.TrimSpace(in.Email), CreatedAt: now, UpdatedAt: now}
	if d.ID == "" {
		d.ID = security.GenerateULID()
	} else if existing, err := s.repo.FindByID(ctx, d.ID); err == nil {
		if existing.TenantID != tenantID {
			return chat.Department{}, apperrors.NotFound("department", d.ID)
		}
		d.CreatedAt = existing.CreatedAt
	} else if !isNotFound(err) {
		return chat.Department{}, apperrors.Unavailable("find department", err)
	}
	if err := s.repo.Upsert(ctx, &d); err != nil {
		return chat.Department{}, apperrors.Unavailable("save department", err)
	}
	return d, nil
}

func (s *DepartmentService) List(ctx context.Context, tenantID string) ([]chat.Department, error) {
	ds, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Unavailable("list departments", err)
	}
	out := make([]chat.Department, 0, len(ds))
	for _, d := range ds {
		out = append(out, *d)
	}
	return out, nil
}
