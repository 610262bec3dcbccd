package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for analyses and their to-do items. Analysis
// reads never return soft-deleted rows.
type Repository interface {
	// Create inserts a; ErrConflict when the patient already has a live
	// analysis with the same version.
	Create(ctx context.Context, a *Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Analysis, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Analysis, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	CountByUser(ctx context.Context, userID uuid.UUID, since time.Time) (total, recent int, err error)

	CreateTodos(ctx context.Context, items []*TodoItem) error
	ListTodos(ctx context.Context, analysisID uuid.UUID) ([]*TodoItem, error)
	GetTodo(ctx context.Context, id uuid.UUID) (*TodoItem, error)
	SetTodoCompleted(ctx context.Context, id uuid.UUID, completed bool, at time.Time) (*TodoItem, error)
	// RecountCompleted stores and returns the number of checked items.
	RecountCompleted(ctx context.Context, analysisID uuid.UUID) (int, error)
}
