package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the step ledger. Rows are only ever inserted; a completed
// marker is never removed or replayed.
type Repository interface {
	// Completed returns the completion time of every marked step.
	Completed(ctx context.Context, patientID uuid.UUID) (map[Step]time.Time, error)

	// MarkCompleted inserts the completion marker for step if prereq (when
	// non-nil) is already marked and the ledger is not frozen. It reports
	// whether a row was inserted; false with a nil error means the guard
	// rejected the insert or the marker already existed.
	MarkCompleted(ctx context.Context, patientID uuid.UUID, step Step, prereq *Step) (bool, error)
}
