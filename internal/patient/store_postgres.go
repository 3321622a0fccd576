package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"diagnostic-assistant/internal/platform/apperr"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectPatient = `SELECT id, name, birth_date, sex, phone, email, created_at, updated_at FROM patients`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p         Patient
		birthDate *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &birthDate, &p.Sex, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if birthDate != nil {
		d := birthDate.Format(birthDateLayout)
		p.BirthDate = &d
	}
	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Patient) error {
	var birthDate *time.Time
	if p.BirthDate != nil {
		d, err := time.Parse(birthDateLayout, *p.BirthDate)
		if err != nil {
			return apperr.Validation("birth_date must be YYYY-MM-DD", nil)
		}
		birthDate = &d
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, name, birth_date, sex, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, birthDate, p.Sex, p.Phone, p.Email, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence(err, "failed to create patient")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(s.pool.QueryRow(ctx, selectPatient+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get patient")
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Patient, error) {
	rows, err := s.pool.Query(ctx, selectPatient+` ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list patients")
	}
	defer rows.Close()

	out := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to scan patient")
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to list patients")
	}
	return out, nil
}

// UpdateContact only touches the fields present in update; the CASE arms keep
// the others.
func (s *PostgresStore) UpdateContact(ctx context.Context, id uuid.UUID, update ContactUpdate) (*Patient, error) {
	query := `
		UPDATE patients SET
			phone = CASE WHEN $2 THEN $3 ELSE phone END,
			email = CASE WHEN $4 THEN $5 ELSE email END,
			updated_at = $6
		WHERE id = $1
		RETURNING id, name, birth_date, sex, phone, email, created_at, updated_at`

	p, err := scanPatient(s.pool.QueryRow(ctx, query,
		id,
		update.Phone != nil, nullIfEmpty(update.Phone),
		update.Email != nil, nullIfEmpty(update.Email),
		time.Now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to update patient")
	}
	return p, nil
}
