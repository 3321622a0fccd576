package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/apperr"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectConsultation = `
	SELECT c.id, c.patient_id, c.status,
		c.principal_diagnosis, c.principal_description,
		c.differential_diagnoses, c.evidence, c.recommendations, c.additional_exams,
		c.created_at, c.updated_at,
		(SELECT count(*) FROM messages m WHERE m.consultation_id = c.id)
	FROM consultations c`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var (
		c                                    Consultation
		patientID                            uuid.NullUUID
		status                               string
		differentials, evidence, recs, exams []byte
	)
	err := row.Scan(
		&c.ID, &patientID, &status,
		&c.PrincipalDiagnosis, &c.PrincipalDescription,
		&differentials, &evidence, &recs, &exams,
		&c.CreatedAt, &c.UpdatedAt,
		&c.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	if patientID.Valid {
		c.PatientID = &patientID.UUID
	}
	c.Status = Status(status)
	if err := decodeDiagnostic(&c, differentials, evidence, recs, exams); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateConsultation(ctx context.Context, patientID *uuid.UUID) (*Consultation, error) {
	var pid uuid.NullUUID
	if patientID != nil {
		pid = uuid.NullUUID{UUID: *patientID, Valid: true}
	}
	now := time.Now().UTC()
	id := uuid.New()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO consultations (id, patient_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		id, pid, string(StatusInProgress), now,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFound("patient", pid.UUID.String())
		}
		return nil, apperr.Persistence(err, "failed to create consultation")
	}
	return &Consultation{
		ID:        id,
		PatientID: patientID,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return getConsultation(ctx, s.pool, id)
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getConsultation(ctx context.Context, q queryRower, id uuid.UUID) (*Consultation, error) {
	c, err := scanConsultation(q.QueryRow(ctx, selectConsultation+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("consultation", id.String())
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get consultation")
	}
	return c, nil
}

func (s *PostgresStore) ListConsultations(ctx context.Context, filter ListFilter) ([]Consultation, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", argNum))
		args = append(args, string(*filter.Status))
		argNum++
	}
	if filter.PatientID != nil {
		conditions = append(conditions, fmt.Sprintf("c.patient_id = $%d", argNum))
		args = append(args, *filter.PatientID)
		argNum++
	}

	query := selectConsultation
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.updated_at DESC, c.created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list consultations")
	}
	defer rows.Close()

	out := []Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to scan consultation")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to list consultations")
	}
	return out, nil
}

// DeleteConsultation removes a consultation; messages go with it through
// ON DELETE CASCADE.
func (s *PostgresStore) DeleteConsultation(ctx context.Context, id uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM consultations WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence(err, "failed to delete consultation")
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("consultation", id.String())
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, consultationID uuid.UUID, role agent.Role, content string, category *diagnosis.Category) (*Message, error) {
	msg := &Message{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
	var cat *string
	if category != nil {
		c := *category
		msg.Category = &c
		v := string(c)
		cat = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE consultations SET updated_at = $2 WHERE id = $1`,
		consultationID, msg.Timestamp,
	)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to touch consultation")
	}
	if result.RowsAffected() == 0 {
		return nil, apperr.NotFound("consultation", consultationID.String())
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, consultation_id, role, content, category, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConsultationID, string(msg.Role), msg.Content, cat, msg.Timestamp,
	)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to insert message")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence(err, "failed to commit message")
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, consultationID uuid.UUID) ([]Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consultations WHERE id = $1)`, consultationID,
	).Scan(&exists); err != nil {
		return nil, apperr.Persistence(err, "failed to look up consultation")
	}
	if !exists {
		return nil, apperr.NotFound("consultation", consultationID.String())
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, consultation_id, role, content, category, timestamp
		FROM messages
		WHERE consultation_id = $1
		ORDER BY timestamp ASC, seq ASC`, consultationID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list messages")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m        Message
			role     string
			category *string
		)
		if err := rows.Scan(&m.ID, &m.ConsultationID, &role, &m.Content, &category, &m.Timestamp); err != nil {
			return nil, apperr.Persistence(err, "failed to scan message")
		}
		m.Role = agent.Role(role)
		if category != nil {
			c := diagnosis.Category(*category)
			m.Category = &c
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to list messages")
	}
	return out, nil
}

// FinalizeDiagnosis encodes the whole record up front and applies it with a
// single UPDATE inside a transaction holding the row lock, so status and
// diagnostic fields become visible together or not at all.
func (s *PostgresStore) FinalizeDiagnosis(ctx context.Context, id uuid.UUID, rec diagnosis.Record) (*Consultation, error) {
	cols, err := encodeRecord(rec)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to encode diagnostic record")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	status, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status == StatusCompleted {
		return nil, apperr.Conflict("consultation is already completed")
	}

	_, err = tx.Exec(ctx, `
		UPDATE consultations SET
			principal_diagnosis = $2,
			principal_description = $3,
			differential_diagnoses = $4,
			evidence = $5,
			recommendations = $6,
			additional_exams = $7,
			status = $8,
			updated_at = $9
		WHERE id = $1`,
		id, cols.Principal, cols.PrincipalDescription,
		cols.Differentials, cols.Evidence, cols.Recommendations, cols.AdditionalExams,
		string(StatusCompleted), time.Now().UTC(),
	)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to finalize diagnosis")
	}

	c, err := getConsultation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence(err, "failed to commit diagnosis")
	}
	return c, nil
}

func (s *PostgresStore) MarkArchived(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	status, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status != StatusInProgress {
		return nil, apperr.Conflict("only an in-progress consultation can be archived")
	}

	_, err = tx.Exec(ctx,
		`UPDATE consultations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(StatusArchived), time.Now().UTC(),
	)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to archive consultation")
	}

	c, err := getConsultation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence(err, "failed to commit archive")
	}
	return c, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.Persistence(err, "database unreachable")
	}
	return nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Status, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM consultations WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("consultation", id.String())
	}
	if err != nil {
		return "", apperr.Persistence(err, "failed to lock consultation")
	}
	return Status(status), nil
}

// foreignKeyViolation is the SQLSTATE for foreign_key_violation.
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
