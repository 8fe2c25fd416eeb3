package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/crypto"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

const eventColumns = "id, company_id, source, event_type, external_id, payload, status, error, received_at, processed_at"

// EventRepository persists webhook events. Payloads are sealed at rest when an encryptor is set.
type EventRepository struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewEventRepository creates a new event repository
func NewEventRepository(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *EventRepository {
	return &EventRepository{pool: pool, encryptor: encryptor}
}

func (r *EventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}

	payload, err := r.encryptor.Seal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to seal event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO webhook_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.CompanyID, string(event.Source), event.EventType, event.ExternalID,
		payload, string(event.Status), event.Error, event.ReceivedAt, event.ProcessedAt,
	)
	return translate(err, "insert webhook event")
}

func (r *EventRepository) GetByID(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, eventID)
	event, err := r.scan(row)
	if err != nil {
		return nil, translate(err, "get webhook event")
	}
	return event, nil
}

func (r *EventRepository) List(ctx context.Context, filter repositories.EventFilter) ([]models.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	builder := psql.Select(eventColumns).From("webhook_events").
		OrderBy("received_at DESC").
		Limit(uint64(limit))
	if filter.CompanyID != nil {
		builder = builder.Where(sq.Eq{"company_id": *filter.CompanyID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}

	statement, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build event query: %w", err)
	}

	rows, err := r.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, translate(err, "list webhook events")
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		event, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func (r *EventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_events
		 SET status = 'processed', processed_at = NOW(), company_id = COALESCE($2, company_id)
		 WHERE id = $1 AND status = 'pending'`,
		eventID, companyID,
	)
	if err != nil {
		return translate(err, "mark event processed")
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoTransition(ctx, eventID)
	}
	return nil
}

func (r *EventRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID, detail string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_events
		 SET status = 'failed', processed_at = NOW(), error = $3, company_id = COALESCE($2, company_id)
		 WHERE id = $1 AND status = 'pending'`,
		eventID, companyID, detail,
	)
	if err != nil {
		return translate(err, "mark event failed")
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoTransition(ctx, eventID)
	}
	return nil
}

func (r *EventRepository) FailStale(ctx context.Context, olderThan time.Time, detail string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_events
		 SET status = 'failed', processed_at = NOW(), error = $2
		 WHERE status = 'pending' AND received_at < $1`,
		olderThan, detail,
	)
	if err != nil {
		return 0, translate(err, "fail stale events")
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) explainNoTransition(ctx context.Context, eventID uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return translate(err, "check webhook event")
	}
	if !exists {
		return repositories.ErrNotFound
	}
	return repositories.ErrAlreadyTerminal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *EventRepository) scan(row rowScanner) (*models.WebhookEvent, error) {
	var (
		e      models.WebhookEvent
		source string
		status string
	)
	if err := row.Scan(&e.ID, &e.CompanyID, &source, &e.EventType, &e.ExternalID,
		&e.Payload, &status, &e.Error, &e.ReceivedAt, &e.ProcessedAt); err != nil {
		return nil, err
	}
	e.Source = models.EventSource(source)
	e.Status = models.EventStatus(status)

	payload, err := r.encryptor.Open(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Payload = payload
	return &e, nil
}

var _ repositories.EventRepository = (*EventRepository)(nil)
