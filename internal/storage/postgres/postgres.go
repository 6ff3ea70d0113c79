// Package postgres is the member store for deployments that run a real
// database server.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"memberauth/internal/domain/models"
	"memberauth/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Storage struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) SaveMember(ctx context.Context, m models.NewMember, agreements []models.TermsAgreement) (int64, error) {
	const op = "storage.postgres.SaveMember"

	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO members (email, pass_hash, name, nickname, birth_date, gender, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			m.Email, m.PassHash, m.Name, m.Nickname, m.BirthDate, string(m.Gender), string(models.MemberStatusActive),
		).Scan(&id)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, a := range agreements {
			batch.Queue("INSERT INTO member_terms (member_id, terms_id, agreed) VALUES ($1, $2, $3)", id, a.TermsID, a.Agreed)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.TableName == "members" {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrMemberExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

const memberColumns = `id, email, pass_hash, status`

func scanMember(op string, row pgx.Row) (*models.Member, error) {
	var m models.Member
	var status string
	if err := row.Scan(&m.ID, &m.Email, &m.PassHash, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.Status = models.MemberStatus(status)

	return &m, nil
}

func (s *Storage) Member(ctx context.Context, email string) (*models.Member, error) {
	const op = "storage.postgres.Member"

	return scanMember(op, s.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email))
}

func (s *Storage) MemberByID(ctx context.Context, id int64) (*models.Member, error) {
	const op = "storage.postgres.MemberByID"

	return scanMember(op, s.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
}

func (s *Storage) MemberProfile(ctx context.Context, id int64) (*models.MemberProfile, error) {
	const op = "storage.postgres.MemberProfile"

	var p models.MemberProfile
	var gender, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, nickname, birth_date, gender, status, created_at
		FROM members WHERE id = $1`, id,
	).Scan(&p.ID, &p.Email, &p.Name, &p.Nickname, &p.BirthDate, &gender, &status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.Gender = models.Gender(gender)
	p.Status = models.MemberStatus(status)

	return &p, nil
}

func (s *Storage) LatestTerms(ctx context.Context) ([]models.Terms, error) {
	const op = "storage.postgres.LatestTerms"

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (type) id, type, version, required, created_at
		FROM terms
		ORDER BY type, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Terms, error) {
		var t models.Terms
		var typ string
		err := row.Scan(&t.ID, &typ, &t.Version, &t.Required, &t.CreatedAt)
		t.Type = models.TermsType(typ)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Storage) SeedTerms(ctx context.Context) error {
	const op = "storage.postgres.SeedTerms"

	batch := &pgx.Batch{}
	for _, typ := range models.AllTermsTypes {
		batch.Queue(`
			INSERT INTO terms (type, version, required) VALUES ($1, 1, $2)
			ON CONFLICT (type, version) DO NOTHING`, string(typ), typ.Required())
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) PublishTerms(ctx context.Context, typ models.TermsType, version int) (int64, error) {
	const op = "storage.postgres.PublishTerms"

	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO terms (type, version, required) VALUES ($1, $2, $3) RETURNING id",
		string(typ), version, typ.Required(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}
