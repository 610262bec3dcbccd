package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the data access interface for patient histories. Reads
// never return soft-deleted rows.
type Repository interface {
	Create(ctx context.Context, p *PatientHistory) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientHistory, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*PatientHistory, int, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, status string, metadata map[string]interface{}) error
	Counts(ctx context.Context, userID uuid.UUID, monthStart time.Time) (Counts, error)
}
