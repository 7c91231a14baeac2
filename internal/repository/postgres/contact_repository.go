package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/afroboost/campaign-scheduler/internal/domain"
)

// ContactRepository reads the users table as the contact directory.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs a new repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// All returns every contact.
func (r *ContactRepository) All(ctx context.Context) ([]domain.Contact, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, email, whatsapp, created_at
		FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("contact repo: all: %w", err)
	}
	return scanContacts(rows)
}

// ByIDs returns the contacts whose id is in ids. Unknown ids are ignored.
func (r *ContactRepository) ByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, email, whatsapp, created_at
		FROM users WHERE id = ANY($1) ORDER BY created_at ASC`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("contact repo: by ids: %w", err)
	}
	return scanContacts(rows)
}

type contactRecord struct {
	ID        string         `db:"id"`
	Name      sql.NullString `db:"name"`
	Email     sql.NullString `db:"email"`
	WhatsApp  sql.NullString `db:"whatsapp"`
	CreatedAt sql.NullTime   `db:"created_at"`
}

func scanContacts(rows *sqlx.Rows) ([]domain.Contact, error) {
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("contact repo: scan: %w", err)
		}
		contacts = append(contacts, domain.Contact{
			ID:        rec.ID,
			Name:      rec.Name.String,
			Email:     rec.Email.String,
			Phone:     rec.WhatsApp.String,
			CreatedAt: rec.CreatedAt.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact repo: rows err: %w", err)
	}
	return contacts, nil
}
