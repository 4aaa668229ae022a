package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/campuskit/portal/core/identity"
)

const uniqueViolation = pq.ErrorCode("23505")

type identityRepository struct {
	db *sqlx.DB
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *sqlx.DB) identity.Repository {
	return &identityRepository{db: db}
}

// dbIdentity mirrors the identity table row.
type dbIdentity struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Role         string      `db:"role"`
	Status       string      `db:"status"`
	USN          null.String `db:"usn"`
	Email        null.String `db:"email"`
	Semester     null.String `db:"semester"`
	CollegeName  null.String `db:"college_name"`
	Department   null.String `db:"department"`
	PasswordHash []byte      `db:"password_hash"`
	CreatedAt    null.Time   `db:"created_at"`
}

func (repo identityRepository) row(idt identity.Identity) dbIdentity {
	return dbIdentity{
		ID:           idt.ID,
		Name:         idt.Name,
		Role:         string(idt.Role),
		Status:       string(idt.Status),
		USN:          null.NewString(idt.USN, idt.USN != ""),
		Email:        null.NewString(idt.Email, idt.Email != ""),
		Semester:     null.NewString(idt.Semester, idt.Semester != ""),
		CollegeName:  null.NewString(idt.CollegeName, idt.CollegeName != ""),
		Department:   null.NewString(idt.Department, idt.Department != ""),
		PasswordHash: idt.PasswordHash,
		CreatedAt:    null.NewTime(idt.CreatedAt.UTC(), !idt.CreatedAt.IsZero()),
	}
}

func (repo identityRepository) unrow(row dbIdentity) identity.Identity {
	return identity.Identity{
		ID:           row.ID,
		Name:         row.Name,
		Role:         identity.Role(row.Role),
		Status:       identity.Status(row.Status),
		USN:          row.USN.String,
		Email:        row.Email.String,
		Semester:     row.Semester.String,
		CollegeName:  row.CollegeName.String,
		Department:   row.Department.String,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.Time,
	}
}

// trapNoRowsErr maps psql "no rows" err to identity.ErrNotFound
func (repo identityRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return identity.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps psql unique-constraint violations to the typed conflict
// errors; a race between two registrations is resolved here by the store.
func (repo identityRepository) trapUniqueErr(err error, msg string) error {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case "identity_usn_key":
			return identity.ErrUSNExists
		case "identity_email_key":
			return identity.ErrEmailExists
		}
	}
	return errors.Wrap(err, msg)
}

func (repo identityRepository) CheckUniqueness(ctx context.Context, usn, email string) error {
	if usn != "" {
		var exists bool
		err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM identity WHERE usn = $1)`, usn)
		if err != nil {
			return errors.Wrap(err, "checking usn uniqueness")
		}
		if exists {
			return identity.ErrUSNExists
		}
	}
	if email != "" {
		var exists bool
		err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM identity WHERE email = $1)`, email)
		if err != nil {
			return errors.Wrap(err, "checking email uniqueness")
		}
		if exists {
			return identity.ErrEmailExists
		}
	}
	return nil
}

func (repo identityRepository) CreateIdentity(ctx context.Context, idt identity.Identity) (identity.Identity, error) {
	idt.ID = uuid.New().String()
	row := repo.row(idt)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO identity (id, name, role, status, usn, email, semester, college_name, department, password_hash, created_at)
		VALUES (:id, :name, :role, :status, :usn, :email, :semester, :college_name, :department, :password_hash, :created_at)`,
		row,
	)
	if err != nil {
		return identity.Identity{}, repo.trapUniqueErr(err, "inserting identity")
	}
	return idt, nil
}

func (repo identityRepository) GetIdentityByID(ctx context.Context, id string) (identity.Identity, error) {
	var row dbIdentity
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM identity WHERE id = $1`, id)
	if err != nil {
		return identity.Identity{}, repo.trapNoRowsErr(err, "finding identity by id")
	}
	return repo.unrow(row), nil
}

func (repo identityRepository) GetIdentityByIdentifier(ctx context.Context, identifier string) (identity.Identity, error) {
	var row dbIdentity
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM identity WHERE usn = upper($1) OR email = lower($1)`, identifier)
	if err != nil {
		return identity.Identity{}, repo.trapNoRowsErr(err, "finding identity by identifier")
	}
	return repo.unrow(row), nil
}

func (repo identityRepository) FilterIdentities(ctx context.Context, filter identity.QueryFilter) ([]identity.Identity, error) {
	query := `SELECT * FROM identity`
	var args []interface{}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		query += " WHERE role = ?"
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if len(args) == 1 {
			query += " WHERE status = ?"
		} else {
			query += " AND status = ?"
		}
	}
	query = repo.db.Rebind(query) + " ORDER BY created_at"

	var rows []dbIdentity
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering identities")
	}
	idts := make([]identity.Identity, 0, len(rows))
	for _, row := range rows {
		idts = append(idts, repo.unrow(row))
	}
	return idts, nil
}

func (repo identityRepository) UpdateIdentityStatus(ctx context.Context, id string, status identity.Status) (identity.Identity, error) {
	res, err := repo.db.ExecContext(ctx, `UPDATE identity SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return identity.Identity{}, errors.Wrap(err, "updating identity status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.Identity{}, identity.ErrNotFound
	}
	return repo.GetIdentityByID(ctx, id)
}

func (repo identityRepository) SetIdentityPassword(ctx context.Context, id string, hash []byte) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE identity SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return errors.Wrap(err, "updating identity password")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
