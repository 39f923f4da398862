package evaluation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/preop/preop/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// -- Conversation --

func (r *repoPG) AppendMessage(ctx context.Context, m *ConversationMessage) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_conversations (id, patient_id, role, content)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		m.ID, m.PatientID, m.Role, m.Content,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) ListConversation(ctx context.Context, patientID uuid.UUID) ([]*ConversationMessage, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, role, content, created_at
		FROM patient_conversations
		WHERE patient_id = $1
		ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// -- Recommendations --

func (r *repoPG) InsertRecommendations(ctx context.Context, patientID uuid.UUID, recs []*Recommendation) error {
	return db.RunInTx(ctx, r.pool, func(txCtx context.Context) error {
		q := r.conn(txCtx)
		if _, err := q.Exec(txCtx,
			`DELETE FROM patient_recommendations WHERE patient_id = $1`, patientID); err != nil {
			return err
		}
		for _, rec := range recs {
			rec.ID = uuid.New()
			rec.PatientID = patientID
			if err := q.QueryRow(txCtx, `
				INSERT INTO patient_recommendations (id, patient_id, category, title, description, priority)
				VALUES ($1,$2,$3,$4,$5,$6)
				RETURNING created_at`,
				rec.ID, rec.PatientID, rec.Category, rec.Title, rec.Description, rec.Priority,
			).Scan(&rec.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) ListRecommendations(ctx context.Context, patientID uuid.UUID) ([]*Recommendation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, category, title, description, priority, created_at
		FROM patient_recommendations
		WHERE patient_id = $1
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Recommendation
	for rows.Next() {
		var rec Recommendation
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.Category, &rec.Title,
			&rec.Description, &rec.Priority, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (r *repoPG) CountRecommendations(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_recommendations WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}

// -- Consents --

const consentCols = `id, patient_id, consent_type, content, accepted, signature_data, accepted_at, created_at`

func (r *repoPG) GetConsents(ctx context.Context, patientID uuid.UUID) ([]*ConsentRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consentCols+` FROM informed_consents WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consents []*ConsentRecord
	for rows.Next() {
		var c ConsentRecord
		if err := rows.Scan(&c.ID, &c.PatientID, &c.ConsentType, &c.Content,
			&c.Accepted, &c.SignatureData, &c.AcceptedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		consents = append(consents, &c)
	}
	return consents, rows.Err()
}

func (r *repoPG) GetConsent(ctx context.Context, patientID uuid.UUID, consentType string) (*ConsentRecord, error) {
	var c ConsentRecord
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM informed_consents WHERE patient_id = $1 AND consent_type = $2`,
		patientID, consentType,
	).Scan(&c.ID, &c.PatientID, &c.ConsentType, &c.Content,
		&c.Accepted, &c.SignatureData, &c.AcceptedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConsent keeps acceptance one-way: once a row has accepted=true
// the accepted flag, signature and accepted_at are never overwritten.
func (r *repoPG) UpsertConsent(ctx context.Context, c *ConsentRecord) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO informed_consents (id, patient_id, consent_type, content, accepted, signature_data, accepted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, consent_type) DO UPDATE SET
			content = EXCLUDED.content,
			accepted = informed_consents.accepted OR EXCLUDED.accepted,
			signature_data = COALESCE(informed_consents.signature_data, EXCLUDED.signature_data),
			accepted_at = COALESCE(informed_consents.accepted_at, EXCLUDED.accepted_at)
		RETURNING id, accepted, accepted_at, created_at`,
		c.ID, c.PatientID, c.ConsentType, c.Content, c.Accepted, c.SignatureData, c.AcceptedAt,
	).Scan(&c.ID, &c.Accepted, &c.AcceptedAt, &c.CreatedAt)
}

// -- Intake --

func (r *repoPG) SaveIntake(ctx context.Context, ir *IntakeResponse) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_responses (
			patient_id, weight_kg, height_cm, allergies, medications,
			chronic_conditions, prior_surgeries, smoker, alcohol_use, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (patient_id) DO UPDATE SET
			weight_kg = EXCLUDED.weight_kg,
			height_cm = EXCLUDED.height_cm,
			allergies = EXCLUDED.allergies,
			medications = EXCLUDED.medications,
			chronic_conditions = EXCLUDED.chronic_conditions,
			prior_surgeries = EXCLUDED.prior_surgeries,
			smoker = EXCLUDED.smoker,
			alcohol_use = EXCLUDED.alcohol_use,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		RETURNING updated_at`,
		ir.PatientID, ir.WeightKg, ir.HeightCm, ir.Allergies, ir.Medications,
		ir.ChronicConditions, ir.PriorSurgeries, ir.Smoker, ir.AlcoholUse, ir.Notes,
	).Scan(&ir.UpdatedAt)
}

func (r *repoPG) GetIntake(ctx context.Context, patientID uuid.UUID) (*IntakeResponse, error) {
	var ir IntakeResponse
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, weight_kg, height_cm, allergies, medications,
			chronic_conditions, prior_surgeries, smoker, alcohol_use, notes, updated_at
		FROM patient_responses WHERE patient_id = $1`, patientID,
	).Scan(&ir.PatientID, &ir.WeightKg, &ir.HeightCm, &ir.Allergies, &ir.Medications,
		&ir.ChronicConditions, &ir.PriorSurgeries, &ir.Smoker, &ir.AlcoholUse, &ir.Notes, &ir.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntakeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ir, nil
}
