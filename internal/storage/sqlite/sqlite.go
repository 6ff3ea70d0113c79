package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens the database file at storagePath. The schema is applied by the
// migrator, not here.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMember inserts the member and its terms answers in one transaction.
func (s *Storage) SaveMember(ctx context.Context, m models.NewMember, agreements []models.TermsAgreement) (int64, error) {
	const op = "storage.sqlite.SaveMember"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO members (email, pass_hash, name, nickname, birth_date, gender, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Email, m.PassHash, m.Name, m.Nickname, m.BirthDate, string(m.Gender), string(models.MemberStatusActive), now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrMemberExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO member_terms (member_id, terms_id, agreed, agreed_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	for _, a := range agreements {
		if _, err := stmt.ExecContext(ctx, id, a.TermsID, a.Agreed, now); err != nil {
			return 0, fmt.Errorf("%s: terms %d: %w", op, a.TermsID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) Member(ctx context.Context, email string) (*models.Member, error) {
	const op = "storage.sqlite.Member"

	row := s.db.QueryRowContext(ctx, "SELECT id, email, pass_hash, status FROM members WHERE email = ?", email)

	return scanMember(op, row)
}

func (s *Storage) MemberByID(ctx context.Context, id int64) (*models.Member, error) {
	const op = "storage.sqlite.MemberByID"

	row := s.db.QueryRowContext(ctx, "SELECT id, email, pass_hash, status FROM members WHERE id = ?", id)

	return scanMember(op, row)
}

func scanMember(op string, row *sql.Row) (*models.Member, error) {
	var m models.Member
	var status string
	if err := row.Scan(&m.ID, &m.Email, &m.PassHash, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.Status = models.MemberStatus(status)

	return &m, nil
}

func (s *Storage) MemberProfile(ctx context.Context, id int64) (*models.MemberProfile, error) {
	const op = "storage.sqlite.MemberProfile"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, nickname, birth_date, gender, status, created_at
		FROM members WHERE id = ?`, id)

	var p models.MemberProfile
	var gender, status string
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.Nickname, &p.BirthDate, &gender, &status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.Gender = models.Gender(gender)
	p.Status = models.MemberStatus(status)

	return &p, nil
}

// LatestTerms returns the newest version of every terms type that has one.
func (s *Storage) LatestTerms(ctx context.Context) ([]models.Terms, error) {
	const op = "storage.sqlite.LatestTerms"

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.type, t.version, t.required, t.created_at
		FROM terms t
		WHERE t.version = (SELECT MAX(version) FROM terms WHERE type = t.type)
		ORDER BY t.type`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Terms
	for rows.Next() {
		var t models.Terms
		var typ string
		if err := rows.Scan(&t.ID, &typ, &t.Version, &t.Required, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.Type = models.TermsType(typ)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// SeedTerms publishes version 1 of every terms type that is still missing it.
func (s *Storage) SeedTerms(ctx context.Context) error {
	const op = "storage.sqlite.SeedTerms"

	now := time.Now().UTC()
	for _, typ := range models.AllTermsTypes {
		_, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO terms (type, version, required, created_at) VALUES (?, 1, ?, ?)",
			string(typ), typ.Required(), now,
		)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", op, typ, err)
		}
	}

	return nil
}

// PublishTerms adds a new version of typ and returns its id.
func (s *Storage) PublishTerms(ctx context.Context, typ models.TermsType, version int) (int64, error) {
	const op = "storage.sqlite.PublishTerms"

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO terms (type, version, required, created_at) VALUES (?, ?, ?, ?)",
		string(typ), version, typ.Required(), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.LastInsertId()
}
