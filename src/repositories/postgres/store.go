package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// Store runs lifecycle units of work in a single PostgreSQL transaction
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new transactional store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &lifecycleTx{q: tx})
	})
}

type lifecycleTx struct {
	q querier
}

func (t *lifecycleTx) LockAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 AND company_id = $2 FOR UPDATE`,
		appointmentID, companyID,
	)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, translate(err, "lock appointment")
	}
	return a, nil
}

func (t *lifecycleTx) LockAppointmentByExternalID(ctx context.Context, companyID uuid.UUID, externalID string) (*models.Appointment, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE company_id = $1 AND external_id = $2 FOR UPDATE`,
		companyID, externalID,
	)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, translate(err, "lock appointment")
	}
	return a, nil
}

func (t *lifecycleTx) LockOrCreateAppointment(ctx context.Context, seed *models.Appointment) (*models.Appointment, bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO appointments (id, company_id, external_id, contact_id, closer_id, calendar_id, title,
			scheduled_at, status, inclusion_flag, source_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (company_id, external_id) DO NOTHING`,
		seed.ID, seed.CompanyID, seed.ExternalID, seed.ContactID, seed.CloserID, seed.CalendarID, seed.Title,
		seed.ScheduledAt, string(seed.Status), string(seed.InclusionFlag), nullTime(seed.SourceUpdatedAt),
	)
	if err != nil {
		return nil, false, translate(err, "insert appointment")
	}

	row := t.q.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE company_id = $1 AND external_id = $2 FOR UPDATE`,
		seed.CompanyID, seed.ExternalID,
	)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, false, translate(err, "lock appointment")
	}
	return a, tag.RowsAffected() == 1, nil
}

func (t *lifecycleTx) SaveAppointment(ctx context.Context, a *models.Appointment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE appointments SET
			contact_id = $3, closer_id = $4, calendar_id = $5, title = $6, scheduled_at = $7, status = $8,
			outcome = $9, pcn_submitted = $10, pcn_submitted_at = $11, pcn_submitted_by = $12,
			inclusion_flag = $13, cash_collected = $14, source_updated_at = $15, updated_at = NOW()
		 WHERE id = $1 AND company_id = $2`,
		a.ID, a.CompanyID, a.ContactID, a.CloserID, a.CalendarID, a.Title, a.ScheduledAt, string(a.Status),
		a.Outcome, a.PCNSubmitted, a.PCNSubmittedAt, a.PCNSubmittedBy,
		string(a.InclusionFlag), a.CashCollected, nullTime(a.SourceUpdatedAt),
	)
	if err != nil {
		return translate(err, "save appointment")
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

const contactColumns = `id, company_id, external_id, name, email, phone,
	attribution, attribution_strategy, attribution_resolved_at, created_at, updated_at`

func (t *lifecycleTx) GetContact(ctx context.Context, contactID uuid.UUID) (*models.Contact, error) {
	row := t.q.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, contactID)
	c, err := scanContact(row)
	if err != nil {
		return nil, translate(err, "get contact")
	}
	return c, nil
}

func (t *lifecycleTx) LockOrCreateContact(ctx context.Context, seed *models.Contact) (*models.Contact, bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO contacts (id, company_id, external_id, name, email, phone,
			attribution, attribution_strategy, attribution_resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (company_id, external_id) DO NOTHING`,
		seed.ID, seed.CompanyID, seed.ExternalID, seed.Name, seed.Email, seed.Phone,
		seed.Attribution, strategyArg(seed.AttributionStrategy), seed.AttributionResolvedAt,
	)
	if err != nil {
		return nil, false, translate(err, "insert contact")
	}

	row := t.q.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE company_id = $1 AND external_id = $2 FOR UPDATE`,
		seed.CompanyID, seed.ExternalID,
	)
	c, err := scanContact(row)
	if err != nil {
		return nil, false, translate(err, "lock contact")
	}
	return c, tag.RowsAffected() == 1, nil
}

func (t *lifecycleTx) SaveContact(ctx context.Context, c *models.Contact) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE contacts SET name = $2, email = $3, phone = $4,
			attribution = $5, attribution_strategy = $6, attribution_resolved_at = $7, updated_at = NOW()
		 WHERE id = $1`,
		c.ID, c.Name, c.Email, c.Phone, c.Attribution, strategyArg(c.AttributionStrategy), c.AttributionResolvedAt,
	)
	if err != nil {
		return translate(err, "save contact")
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (t *lifecycleTx) GetPCN(ctx context.Context, appointmentID uuid.UUID) (*models.PCNRecord, error) {
	var p models.PCNRecord
	err := t.q.QueryRow(ctx,
		`SELECT appointment_id, company_id, submitted_by, submitted_at, outcome, cash_collected::float8,
			notes, attribution_snapshot, revision
		 FROM pcn_records WHERE appointment_id = $1`,
		appointmentID,
	).Scan(&p.AppointmentID, &p.CompanyID, &p.SubmittedBy, &p.SubmittedAt, &p.Outcome, &p.CashCollected,
		&p.Notes, &p.AttributionSnapshot, &p.Revision)
	if err != nil {
		return nil, translate(err, "get pcn")
	}
	return &p, nil
}

func (t *lifecycleTx) SavePCN(ctx context.Context, p *models.PCNRecord) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO pcn_records (appointment_id, company_id, submitted_by, submitted_at, outcome,
			cash_collected, notes, attribution_snapshot, revision)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (appointment_id) DO UPDATE SET
			submitted_by = EXCLUDED.submitted_by, submitted_at = EXCLUDED.submitted_at,
			outcome = EXCLUDED.outcome, cash_collected = EXCLUDED.cash_collected, notes = EXCLUDED.notes,
			attribution_snapshot = EXCLUDED.attribution_snapshot, revision = EXCLUDED.revision`,
		p.AppointmentID, p.CompanyID, p.SubmittedBy, p.SubmittedAt, p.Outcome,
		p.CashCollected, p.Notes, p.AttributionSnapshot, p.Revision,
	)
	return translate(err, "save pcn")
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		c        models.Contact
		strategy *string
	)
	if err := row.Scan(&c.ID, &c.CompanyID, &c.ExternalID, &c.Name, &c.Email, &c.Phone,
		&c.Attribution, &strategy, &c.AttributionResolvedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if strategy != nil {
		s := models.AttributionStrategy(*strategy)
		c.AttributionStrategy = &s
	}
	return &c, nil
}

func strategyArg(s *models.AttributionStrategy) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ repositories.Store = (*Store)(nil)
