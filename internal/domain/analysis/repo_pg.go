package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/medflow/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a new PostgreSQL-backed analysis repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const analysisCols = `id, patient_history_id, user_id, todo_list_json, raw_analysis_text, model_used,
	analysis_version, processing_time_ms, total_items, completed_items, summary, risk_level,
	user_feedback, user_rating, created_at, updated_at, deleted_at`

const todoCols = `id, analysis_id, user_id, title, description, priority, category,
	is_completed, completed_at, order_index, parent_item_id, created_at, updated_at`

func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var (
		a    Analysis
		todo []byte
	)
	err := row.Scan(&a.ID, &a.PatientHistoryID, &a.UserID, &todo, &a.RawAnalysisText, &a.ModelUsed,
		&a.AnalysisVersion, &a.ProcessingTimeMS, &a.TotalItems, &a.CompletedItems, &a.Summary,
		&a.RiskLevel, &a.UserFeedback, &a.UserRating, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TodoListJSON = todo
	return &a, nil
}

func scanTodo(row pgx.Row) (*TodoItem, error) {
	var t TodoItem
	err := row.Scan(&t.ID, &t.AnalysisID, &t.UserID, &t.Title, &t.Description, &t.Priority,
		&t.Category, &t.IsCompleted, &t.CompletedAt, &t.OrderIndex, &t.ParentItemID,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, a *Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	todo := []byte(a.TodoListJSON)
	if len(todo) == 0 {
		todo = []byte("[]")
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO analyses (id, patient_history_id, user_id, todo_list_json, raw_analysis_text,
			model_used, analysis_version, processing_time_ms, total_items, completed_items,
			summary, risk_level, user_feedback, user_rating)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientHistoryID, a.UserID, todo, a.RawAnalysisText,
		a.ModelUsed, a.AnalysisVersion, a.ProcessingTimeMS, a.TotalItems, a.CompletedItems,
		a.Summary, a.RiskLevel, a.UserFeedback, a.UserRating,
	).Scan(&a.CreatedAt, &a.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s analysis already exists", ErrConflict, a.AnalysisVersion)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Analysis, error) {
	return scanAnalysis(r.conn(ctx).QueryRow(ctx, `SELECT `+analysisCols+` FROM analyses
		WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Analysis, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+analysisCols+` FROM analyses
		WHERE patient_history_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE analyses SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) CountByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, int, error) {
	var total, recent int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $2)
		FROM analyses
		WHERE user_id = $1 AND deleted_at IS NULL`, userID, since,
	).Scan(&total, &recent)
	return total, recent, err
}

func (r *repoPG) CreateTodos(ctx context.Context, items []*TodoItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range items {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO todo_items (id, analysis_id, user_id, title, description, priority,
				category, is_completed, order_index, parent_item_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING created_at, updated_at`,
			t.ID, t.AnalysisID, t.UserID, t.Title, t.Description, t.Priority,
			t.Category, t.IsCompleted, t.OrderIndex, t.ParentItemID,
		)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for i, t := range items {
		if err := br.QueryRow().Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("insert todo item %d: %w", i, err)
		}
	}
	return br.Close()
}

func (r *repoPG) ListTodos(ctx context.Context, analysisID uuid.UUID) ([]*TodoItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+todoCols+` FROM todo_items
		WHERE analysis_id = $1 ORDER BY order_index ASC, created_at ASC`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TodoItem
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) GetTodo(ctx context.Context, id uuid.UUID) (*TodoItem, error) {
	return scanTodo(r.conn(ctx).QueryRow(ctx, `SELECT `+todoCols+` FROM todo_items WHERE id = $1`, id))
}

func (r *repoPG) SetTodoCompleted(ctx context.Context, id uuid.UUID, completed bool, at time.Time) (*TodoItem, error) {
	return scanTodo(r.conn(ctx).QueryRow(ctx, `
		UPDATE todo_items SET is_completed = $2,
			completed_at = CASE WHEN $2 THEN $3::timestamptz ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+todoCols, id, completed, at))
}

func (r *repoPG) RecountCompleted(ctx context.Context, analysisID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE analyses SET completed_items = (
			SELECT COUNT(*) FROM todo_items WHERE analysis_id = $1 AND is_completed
		), updated_at = NOW()
		WHERE id = $1
		RETURNING completed_items`, analysisID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}
