package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

const companyColumns = `id, name, COALESCE(location_id, ''), COALESCE(calendly_organization, ''),
	attribution_strategy, attribution_source_field, attribution_calendar_sources,
	slack_webhook_url, digest_email, timezone, created_at`

// CompanyRepository reads company configuration
type CompanyRepository struct {
	pool *pgxpool.Pool
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(pool *pgxpool.Pool) *CompanyRepository {
	return &CompanyRepository{pool: pool}
}

func (r *CompanyRepository) GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	return r.getOne(ctx, "id = $1", companyID)
}

func (r *CompanyRepository) GetByLocationID(ctx context.Context, locationID string) (*models.Company, error) {
	return r.getOne(ctx, "location_id = $1", locationID)
}

func (r *CompanyRepository) GetByCalendlyOrganization(ctx context.Context, organization string) (*models.Company, error) {
	return r.getOne(ctx, "calendly_organization = $1", organization)
}

func (r *CompanyRepository) List(ctx context.Context) ([]models.Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, translate(err, "list companies")
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func (r *CompanyRepository) UpdateAttribution(ctx context.Context, companyID uuid.UUID, cfg models.AttributionConfig) error {
	sources := cfg.CalendarSources
	if sources == nil {
		sources = map[string]string{}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE companies
		 SET attribution_strategy = $2, attribution_source_field = $3, attribution_calendar_sources = $4
		 WHERE id = $1`,
		companyID, string(cfg.Strategy), cfg.SourceField, sources,
	)
	if err != nil {
		return translate(err, "update attribution")
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *CompanyRepository) getOne(ctx context.Context, where string, arg any) (*models.Company, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE `+where, arg)
	c, err := scanCompany(row)
	if err != nil {
		return nil, translate(err, "get company")
	}
	return c, nil
}

func scanCompany(row rowScanner) (*models.Company, error) {
	var (
		c        models.Company
		strategy string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.LocationID, &c.CalendlyOrganization,
		&strategy, &c.Attribution.SourceField, &c.Attribution.CalendarSources,
		&c.SlackWebhookURL, &c.DigestEmail, &c.Timezone, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Attribution.Strategy = models.AttributionStrategy(strategy)
	return &c, nil
}

var _ repositories.CompanyRepository = (*CompanyRepository)(nil)
