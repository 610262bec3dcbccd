package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/medflow/internal/platform/db"
)

type subscriptionRepoPG struct{ pool *pgxpool.Pool }

// NewSubscriptionRepoPG creates a new PostgreSQL-backed subscription repository.
func NewSubscriptionRepoPG(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepoPG{pool: pool}
}

func (r *subscriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const subCols = `id, user_id, status, plan_type, amount, currency, payment_provider,
	payment_method, transaction_id, starts_at, expires_at, metadata, created_at, updated_at`

func scanSub(row pgx.Row) (*Subscription, error) {
	var (
		s    Subscription
		meta []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.PlanType, &s.Amount, &s.Currency,
		&s.PaymentProvider, &s.PaymentMethod, &s.TransactionID, &s.StartsAt, &s.ExpiresAt,
		&meta, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode subscription metadata: %w", err)
		}
	}
	return &s, nil
}

func (r *subscriptionRepoPG) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("encode subscription metadata: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, status, plan_type, amount, currency,
			payment_provider, payment_method, transaction_id, starts_at, expires_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		sub.ID, sub.UserID, sub.Status, sub.PlanType, sub.Amount, sub.Currency,
		sub.PaymentProvider, sub.PaymentMethod, sub.TransactionID, sub.StartsAt, sub.ExpiresAt, meta,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

func (r *subscriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return scanSub(r.conn(ctx).QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions WHERE id = $1`, id))
}

func (r *subscriptionRepoPG) GetByTransactionID(ctx context.Context, transactionID string) (*Subscription, error) {
	return scanSub(r.conn(ctx).QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions WHERE transaction_id = $1`, transactionID))
}

func (r *subscriptionRepoPG) LatestForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return scanSub(r.conn(ctx).QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID))
}

func (r *subscriptionRepoPG) ActiveForUser(ctx context.Context, userID uuid.UUID, at time.Time) (*Subscription, error) {
	return scanSub(r.conn(ctx).QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY expires_at DESC LIMIT 1`, userID, at))
}

func (r *subscriptionRepoPG) UpdateIfPending(ctx context.Context, sub *Subscription) (bool, error) {
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode subscription metadata: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE subscriptions SET status=$2, payment_method=$3, starts_at=$4, expires_at=$5,
			metadata=$6, updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`,
		sub.ID, sub.Status, sub.PaymentMethod, sub.StartsAt, sub.ExpiresAt, meta)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type webhookLogRepoPG struct{ pool *pgxpool.Pool }

// NewWebhookLogRepoPG creates a new PostgreSQL-backed webhook log repository.
func NewWebhookLogRepoPG(pool *pgxpool.Pool) WebhookLogRepository {
	return &webhookLogRepoPG{pool: pool}
}

func (r *webhookLogRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const logCols = `id, provider, event_type, payload, status, error_message, processed_at,
	subscription_id, user_id, created_at`

func scanLog(row pgx.Row) (*WebhookLog, error) {
	var l WebhookLog
	err := row.Scan(&l.ID, &l.Provider, &l.EventType, &l.Payload, &l.Status, &l.ErrorMessage,
		&l.ProcessedAt, &l.SubscriptionID, &l.UserID, &l.CreatedAt)
	return &l, err
}

func (r *webhookLogRepoPG) Create(ctx context.Context, l *WebhookLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_webhooks (id, provider, event_type, payload, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		l.ID, l.Provider, l.EventType, l.Payload, l.Status,
	).Scan(&l.CreatedAt)
}

func (r *webhookLogRepoPG) Finalize(ctx context.Context, l *WebhookLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_webhooks SET status=$2, error_message=$3, processed_at=$4,
			subscription_id=$5, user_id=$6
		WHERE id = $1`,
		l.ID, l.Status, l.ErrorMessage, l.ProcessedAt, l.SubscriptionID, l.UserID)
	return err
}

func (r *webhookLogRepoPG) List(ctx context.Context, limit, offset int) ([]*WebhookLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payment_webhooks`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+logCols+` FROM payment_webhooks
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*WebhookLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
