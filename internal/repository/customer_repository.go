package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// CustomerRepository handles customer reads. Customers are maintained by the
// administrative store; the generation engine only reads them.
type CustomerRepository struct {
	db *database.DB
}

// NewCustomerRepository creates a new CustomerRepository.
func NewCustomerRepository(db *database.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerSelect = `
	SELECT c.id, c.ile, c.round_location, c.region,
	       c.responsible_cm, c.responsible_lcm, lcm.scnx,
	       c.created_at, c.updated_at
	FROM customers c
	LEFT JOIN users lcm ON lcm.id = c.responsible_lcm
`

// List returns all customers ordered by their natural key.
func (r *CustomerRepository) List(ctx context.Context) ([]*Customer, error) {
	rows, err := r.db.Query(ctx, customerSelect+" ORDER BY c.ile, c.round_location")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list customers")
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// ListByIDs returns the customers matching the given IDs, in natural-key
// order. Unknown IDs are silently skipped.
func (r *CustomerRepository) ListByIDs(ctx context.Context, ids []string) ([]*Customer, error) {
	rows, err := r.db.Query(ctx, customerSelect+" WHERE c.id = ANY($1) ORDER BY c.ile, c.round_location", ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list customers by id")
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// GetByID retrieves one customer.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*Customer, error) {
	c := &Customer{}
	err := r.db.QueryRow(ctx, customerSelect+" WHERE c.id = $1", id).Scan(
		&c.ID,
		&c.Ile,
		&c.RoundLocation,
		&c.Region,
		&c.ResponsibleCMID,
		&c.ResponsibleLCMID,
		&c.ResponsibleLCMScnx,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("customer", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get customer")
	}
	return c, nil
}

func scanCustomers(rows pgx.Rows) ([]*Customer, error) {
	customers := make([]*Customer, 0)
	for rows.Next() {
		c := &Customer{}
		err := rows.Scan(
			&c.ID,
			&c.Ile,
			&c.RoundLocation,
			&c.Region,
			&c.ResponsibleCMID,
			&c.ResponsibleLCMID,
			&c.ResponsibleLCMScnx,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan customer")
		}
		customers = append(customers, c)
	}
	return customers, nil
}
