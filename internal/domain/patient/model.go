package patient

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the coarse evaluation status projected from the patient's
// workflow ledger. It is derived state; the ledger is the source of truth.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusValidated  Status = "validated"
)

var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusValidated:  true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Display returns the Spanish label shown in the staff dashboard.
func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "Pendientes"
	case StatusInProgress:
		return "En progreso"
	case StatusCompleted:
		return "Completado"
	case StatusValidated:
		return "Validado"
	}
	return string(s)
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid patient status: %q", s)
	}
	return st, nil
}

// Patient maps to the patients table. The Token is the capability that
// grants portal access; it is never reused across patients.
type Patient struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Token         string     `db:"token" json:"token"`
	DNI           string     `db:"dni" json:"dni"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	BirthDate     *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Procedure     *string    `db:"procedure" json:"procedure,omitempty"`
	ProcedureDate *time.Time `db:"procedure_date" json:"procedure_date,omitempty"`
	Status        Status     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// NewToken returns a 32-hex-char portal token from crypto/rand.
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
