package patient

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

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a new PostgreSQL-backed patient history repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const cols = `id, user_id, patient_name, patient_age, patient_gender, patient_identifier,
	history_text, word_count, status, metadata, analyzed_at, created_at, updated_at, deleted_at`

func scan(row pgx.Row) (*PatientHistory, error) {
	var (
		p    PatientHistory
		meta []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.PatientName, &p.PatientAge, &p.PatientGender,
		&p.PatientIdentifier, &p.HistoryText, &p.WordCount, &p.Status, &meta,
		&p.AnalyzedAt, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode patient metadata: %w", err)
		}
	}
	return &p, nil
}

func encodeMeta(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (r *repoPG) Create(ctx context.Context, p *PatientHistory) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("encode patient metadata: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_histories (id, user_id, patient_name, patient_age, patient_gender,
			patient_identifier, history_text, word_count, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.PatientName, p.PatientAge, p.PatientGender,
		p.PatientIdentifier, p.HistoryText, p.WordCount, p.Status, meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientHistory, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM patient_histories
		WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*PatientHistory, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_histories
		WHERE user_id = $1 AND deleted_at IS NULL`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM patient_histories
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientHistory
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patient_histories SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_histories SET status = $2,
			analyzed_at = CASE WHEN $2 = 'completed' THEN COALESCE(analyzed_at, NOW()) ELSE analyzed_at END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateMetadata(ctx context.Context, id uuid.UUID, status string, metadata map[string]interface{}) error {
	meta, err := encodeMeta(metadata)
	if err != nil {
		return fmt.Errorf("encode patient metadata: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patient_histories SET status = $2, metadata = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, status, meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Counts(ctx context.Context, userID uuid.UUID, monthStart time.Time) (Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE status IN ('draft', 'submitted'))
		FROM patient_histories
		WHERE user_id = $1 AND deleted_at IS NULL`, userID, monthStart,
	).Scan(&c.Total, &c.ThisMonth, &c.Pending)
	return c, err
}
