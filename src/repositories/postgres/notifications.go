package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// NotificationRepository stores reminder and digest claims
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// ClaimReminder relies on ON CONFLICT re-checking the WHERE clause against the
// latest row version, so concurrent sweeps cannot both win the same cycle.
func (r *NotificationRepository) ClaimReminder(ctx context.Context, appointmentID uuid.UUID, now, staleBefore time.Time) (bool, *time.Time, error) {
	var previous *time.Time
	err := r.pool.QueryRow(ctx,
		`WITH prev AS (
			SELECT last_notified_at FROM notification_dispatches WHERE appointment_id = $1
		 )
		 INSERT INTO notification_dispatches AS d (appointment_id, last_notified_at, notify_count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (appointment_id) DO UPDATE
		 SET last_notified_at = EXCLUDED.last_notified_at, notify_count = d.notify_count + 1
		 WHERE d.last_notified_at IS NULL OR d.last_notified_at <= $3
		 RETURNING (SELECT last_notified_at FROM prev)`,
		appointmentID, now, staleBefore,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, translate(err, "claim reminder")
	}
	return true, previous, nil
}

func (r *NotificationRepository) ReleaseReminder(ctx context.Context, appointmentID uuid.UUID, previous *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_dispatches
		 SET last_notified_at = $2, notify_count = GREATEST(notify_count - 1, 0)
		 WHERE appointment_id = $1`,
		appointmentID, previous,
	)
	return translate(err, "release reminder")
}

func (r *NotificationRepository) ClaimDigest(ctx context.Context, companyID uuid.UUID, weekStart, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO digest_dispatches (company_id, week_start, sent_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (company_id, week_start) DO NOTHING`,
		companyID, weekStart, now,
	)
	if err != nil {
		return false, translate(err, "claim digest")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationRepository) ReleaseDigest(ctx context.Context, companyID uuid.UUID, weekStart time.Time) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM digest_dispatches WHERE company_id = $1 AND week_start = $2`,
		companyID, weekStart,
	)
	return translate(err, "release digest")
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)
