package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

const appointmentColumns = `id, company_id, external_id, contact_id, closer_id, calendar_id, title,
	scheduled_at, status, outcome, pcn_submitted, pcn_submitted_at, pcn_submitted_by,
	inclusion_flag, cash_collected::float8, source_updated_at, created_at, updated_at`

// AppointmentRepository serves the non-locking appointment reads
type AppointmentRepository struct {
	pool *pgxpool.Pool
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(pool *pgxpool.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 AND company_id = $2`,
		appointmentID, companyID,
	)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, translate(err, "get appointment")
	}
	return a, nil
}

func (r *AppointmentRepository) ListIDs(ctx context.Context, page repositories.AppointmentPage) ([]repositories.AppointmentRef, error) {
	builder := psql.Select("id", "company_id").From("appointments").
		Where(sq.Gt{"id": page.AfterID}).
		OrderBy("id").
		Limit(uint64(pageLimit(page.Limit)))
	if page.CompanyID != nil {
		builder = builder.Where(sq.Eq{"company_id": *page.CompanyID})
	}

	statement, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointment page: %w", err)
	}

	rows, err := r.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, translate(err, "list appointment ids")
	}
	defer rows.Close()

	var refs []repositories.AppointmentRef
	for rows.Next() {
		var ref repositories.AppointmentRef
		if err := rows.Scan(&ref.ID, &ref.CompanyID); err != nil {
			return nil, fmt.Errorf("failed to scan appointment id: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *AppointmentRepository) ListOverdue(ctx context.Context, query repositories.OverdueQuery) ([]models.Appointment, error) {
	builder := psql.Select(appointmentColumns).From("appointments").
		Where(sq.Eq{"pcn_submitted": false}).
		Where(sq.LtOrEq{"scheduled_at": query.ScheduledBefore}).
		Where(sq.NotEq{"status": string(models.AppointmentCancelled)}).
		Where(sq.NotEq{"inclusion_flag": string(models.InclusionExcluded)}).
		Where(sq.Or{
			sq.Eq{"outcome": nil},
			sq.Expr("lower(trim(outcome)) NOT IN ('cancelled', 'canceled', 'cancel')"),
		}).
		Where(sq.Gt{"id": query.AfterID}).
		OrderBy("id").
		Limit(uint64(pageLimit(query.Limit)))
	if query.CompanyID != nil {
		builder = builder.Where(sq.Eq{"company_id": *query.CompanyID})
	}

	statement, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build overdue query: %w", err)
	}

	rows, err := r.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, translate(err, "list overdue appointments")
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AppointmentRepository) Summarize(ctx context.Context, companyID uuid.UUID, from, to time.Time) (*models.WeeklySummary, error) {
	var s models.WeeklySummary
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE inclusion_flag = 'included'),
			COUNT(*) FILTER (WHERE inclusion_flag = 'excluded'),
			COUNT(*) FILTER (WHERE inclusion_flag = 'unknown'),
			COUNT(*) FILTER (WHERE pcn_submitted),
			COUNT(*) FILTER (WHERE NOT pcn_submitted AND inclusion_flag = 'included'),
			COALESCE(SUM(cash_collected), 0)::float8
		 FROM appointments
		 WHERE company_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3`,
		companyID, from, to,
	).Scan(&s.Total, &s.Included, &s.Excluded, &s.Unknown, &s.Submitted, &s.Missing, &s.CashCollected)
	if err != nil {
		return nil, translate(err, "summarize appointments")
	}
	return &s, nil
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a             models.Appointment
		status        string
		flag          string
		sourceUpdated *time.Time
	)
	if err := row.Scan(&a.ID, &a.CompanyID, &a.ExternalID, &a.ContactID, &a.CloserID, &a.CalendarID, &a.Title,
		&a.ScheduledAt, &status, &a.Outcome, &a.PCNSubmitted, &a.PCNSubmittedAt, &a.PCNSubmittedBy,
		&flag, &a.CashCollected, &sourceUpdated, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.AppointmentStatus(status)
	a.InclusionFlag = models.InclusionFlag(flag)
	if sourceUpdated != nil {
		a.SourceUpdatedAt = *sourceUpdated
	}
	return &a, nil
}

var _ repositories.AppointmentRepository = (*AppointmentRepository)(nil)
