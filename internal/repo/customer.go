package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CustomerSchema is the DDL for the customers table.
const CustomerSchema = `
CREATE TABLE IF NOT EXISTS customers (
    id              BIGSERIAL PRIMARY KEY,
    phone           TEXT NOT NULL UNIQUE,
    email           TEXT NOT NULL DEFAULT '',
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    date_of_birth   DATE,
    address_line1   TEXT NOT NULL DEFAULT '',
    address_line2   TEXT NOT NULL DEFAULT '',
    city            TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL DEFAULT '',
    zip             TEXT NOT NULL DEFAULT '',
    customer_since  DATE,
    preferences     JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);
`

// CustomerStore is a typed repository over the customers table.
type CustomerStore struct {
	db DB
}

// NewCustomerStore creates a [CustomerStore] over db.
func NewCustomerStore(db DB) *CustomerStore { return &CustomerStore{db: db} }

// Migrate creates the customers table and its indexes if absent.
func (s *CustomerStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, CustomerSchema); err != nil {
		return fmt.Errorf("repo: migrate customers: %w", err)
	}
	return nil
}

// Create inserts a new customer. Phone is normalized and validated first;
// a phone collision is reported as a descriptive error rather than a raw
// constraint violation.
func (s *CustomerStore) Create(ctx context.Context, c *Customer) error {
	c.Phone = NormalizePhone(c.Phone)
	if err := c.Validate(); err != nil {
		return err
	}
	prefs, err := json.Marshal(emptyPrefs(c.Preferences))
	if err != nil {
		return fmt.Errorf("repo: marshal preferences: %w", err)
	}

	const query = `
		INSERT INTO customers (
			phone, email, first_name, last_name, date_of_birth,
			address_line1, address_line2, city, state, zip,
			customer_since, preferences
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		c.Phone, c.Email, c.FirstName, c.LastName, c.DateOfBirth,
		c.AddressLine1, c.AddressLine2, c.City, c.State, c.ZIP,
		c.CustomerSince, prefs,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("repo: customer with phone %q already exists", c.Phone)
		}
		return fmt.Errorf("repo: create customer: %w", err)
	}
	return nil
}

// Get retrieves a customer by id, returning (nil, nil) if not found.
func (s *CustomerStore) Get(ctx context.Context, id int64) (*Customer, error) {
	const query = `
		SELECT id, phone, email, first_name, last_name, date_of_birth,
		       address_line1, address_line2, city, state, zip,
		       customer_since, preferences, created_at, updated_at
		FROM customers WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// GetByPhone retrieves a customer by normalized phone, returning (nil, nil)
// if not found. This is the path the lookup_customer tool uses on a cache
// miss.
func (s *CustomerStore) GetByPhone(ctx context.Context, phone string) (*Customer, error) {
	const query = `
		SELECT id, phone, email, first_name, last_name, date_of_birth,
		       address_line1, address_line2, city, state, zip,
		       customer_since, preferences, created_at, updated_at
		FROM customers WHERE phone = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, NormalizePhone(phone)))
}

func (s *CustomerStore) scanOne(row pgx.Row) (*Customer, error) {
	var c Customer
	var prefs []byte
	err := row.Scan(
		&c.ID, &c.Phone, &c.Email, &c.FirstName, &c.LastName, &c.DateOfBirth,
		&c.AddressLine1, &c.AddressLine2, &c.City, &c.State, &c.ZIP,
		&c.CustomerSince, &prefs, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: get customer: %w", err)
	}
	if err := json.Unmarshal(prefs, &c.Preferences); err != nil {
		return nil, fmt.Errorf("repo: unmarshal preferences: %w", err)
	}
	return &c, nil
}

// Update persists changes to an existing customer.
func (s *CustomerStore) Update(ctx context.Context, c *Customer) error {
	c.Phone = NormalizePhone(c.Phone)
	if err := c.Validate(); err != nil {
		return err
	}
	prefs, err := json.Marshal(emptyPrefs(c.Preferences))
	if err != nil {
		return fmt.Errorf("repo: marshal preferences: %w", err)
	}

	const query = `
		UPDATE customers SET
			phone = $2, email = $3, first_name = $4, last_name = $5, date_of_birth = $6,
			address_line1 = $7, address_line2 = $8, city = $9, state = $10, zip = $11,
			customer_since = $12, preferences = $13, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		c.ID, c.Phone, c.Email, c.FirstName, c.LastName, c.DateOfBirth,
		c.AddressLine1, c.AddressLine2, c.City, c.State, c.ZIP,
		c.CustomerSince, prefs,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("repo: customer %d not found", c.ID)
		}
		return fmt.Errorf("repo: update customer: %w", err)
	}
	return nil
}

func emptyPrefs(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
