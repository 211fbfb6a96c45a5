package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.DepartmentRepository = (*SQLDepartmentRepository)(nil)

const departmentColumns = `id, tenant_id, name, email, created_at, updated_at`

type SQLDepartmentRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLDepartmentRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLDepartmentRepository {
	return &SQLDepartmentRepository{db: db, logger: logger}
}

func (r *SQLDepartmentRepository) Upsert(ctx context.Context, d *chat.Department) error {
	start := time.Now()
	defer r.db.Track("UPSERT_DEPARTMENT", start, d.TenantID)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO departments (`+departmentColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, updated_at = excluded.updated_at
		WHERE excluded.updated_at >= departments.updated_at`,
		d.ID, d.TenantID, d.Name, d.Email, database.Nanos(d.CreatedAt), database.Nanos(d.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "upsert department %s", d.ID)
	}
	r.logger.Database().Info().Str("departmentId", d.ID).Str("tenantId", d.TenantID).Msg("Department saved")
	return nil
}

func (r *SQLDepartmentRepository) FindByID(ctx context.Context, id string) (*chat.Department, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = ?`, id)
	d, err := scanDepartment(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("department", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load department %s", id)
	}
	return d, nil
}

func (r *SQLDepartmentRepository) FindByTenant(ctx context.Context, tenantID string) ([]*chat.Department, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "query departments")
	}
	defer rows.Close()

	var out []*chat.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan department")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "iterate departments")
}

func scanDepartment(row database.Scanner) (*chat.Department, error) {
	var (
		d                chat.Department
		email            sql.NullString
		created, updated int64
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.Name, &email, &created, &updated); err != nil {
		return nil, err
	}
	d.Email = email.String
	d.CreatedAt = database.FromNanos(created)
	d.UpdatedAt = database.FromNanos(updated)
	return &d, nil
}
