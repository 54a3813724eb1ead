package repository

import (
	"context"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// UserRepository handles user reads. Users are the roster of responsible
// parties offered when assigning customers; account management itself lives
// in the administrative store.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// List returns all users, optionally filtered by role (CM, LCM, HOD).
func (r *UserRepository) List(ctx context.Context, role string) ([]*User, error) {
	query := `
		SELECT id, username, english_name, scnx, role, created_at, updated_at
		FROM users
	`
	args := []any{}
	if role != "" {
		query += " WHERE role = $1"
		args = append(args, role)
	}
	query += " ORDER BY username"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u := &User{}
		err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.EnglishName,
			&u.Scnx,
			&u.Role,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, nil
}
