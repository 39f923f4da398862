package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no patient matches the given ID, token
// or DNI. Callers must not treat it as an empty ledger.
var ErrNotFound = errors.New("patient not found")

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Status Status
	Search string
}

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByToken(ctx context.Context, token string) (*Patient, error)
	GetByDNI(ctx context.Context, dni string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
}
