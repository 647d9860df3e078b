package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// VehicleSchema is the DDL for the vehicles table. Deleting a customer
// cascades to their vehicles per the data model's ownership invariant.
const VehicleSchema = `
CREATE TABLE IF NOT EXISTS vehicles (
    id               BIGSERIAL PRIMARY KEY,
    customer_id      BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    vin              TEXT NOT NULL UNIQUE,
    year             INT NOT NULL DEFAULT 0,
    make             TEXT NOT NULL DEFAULT '',
    model            TEXT NOT NULL DEFAULT '',
    trim             TEXT NOT NULL DEFAULT '',
    color            TEXT NOT NULL DEFAULT '',
    mileage          INT NOT NULL DEFAULT 0,
    last_service_at  TIMESTAMPTZ,
    next_service_at  TIMESTAMPTZ,
    is_primary       BOOLEAN NOT NULL DEFAULT false,
    status           TEXT NOT NULL DEFAULT 'active',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_vehicles_customer ON vehicles(customer_id);
`

// VehicleStore is a typed repository over the vehicles table.
type VehicleStore struct {
	db DB
}

// NewVehicleStore creates a [VehicleStore] over db.
func NewVehicleStore(db DB) *VehicleStore { return &VehicleStore{db: db} }

// Migrate creates the vehicles table and its indexes if absent.
func (s *VehicleStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, VehicleSchema); err != nil {
		return fmt.Errorf("repo: migrate vehicles: %w", err)
	}
	return nil
}

// Create inserts a new vehicle. VIN is uppercased first.
func (s *VehicleStore) Create(ctx context.Context, v *Vehicle) error {
	v.VIN = NormalizeVIN(v.VIN)
	if v.Status == "" {
		v.Status = VehicleActive
	}
	if err := v.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO vehicles (
			customer_id, vin, year, make, model, trim, color, mileage,
			last_service_at, next_service_at, is_primary, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		v.CustomerID, v.VIN, v.Year, v.Make, v.Model, v.Trim, v.Color, v.Mileage,
		v.LastServiceAt, v.NextServiceAt, v.IsPrimary, v.Status,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("repo: vehicle with VIN %q already exists", v.VIN)
		}
		return fmt.Errorf("repo: create vehicle: %w", err)
	}
	return nil
}

// Get retrieves a vehicle by id, returning (nil, nil) if not found.
func (s *VehicleStore) Get(ctx context.Context, id int64) (*Vehicle, error) {
	const query = `
		SELECT id, customer_id, vin, year, make, model, trim, color, mileage,
		       last_service_at, next_service_at, is_primary, status, created_at, updated_at
		FROM vehicles WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *VehicleStore) scanOne(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	err := row.Scan(
		&v.ID, &v.CustomerID, &v.VIN, &v.Year, &v.Make, &v.Model, &v.Trim, &v.Color, &v.Mileage,
		&v.LastServiceAt, &v.NextServiceAt, &v.IsPrimary, &v.Status, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: get vehicle: %w", err)
	}
	return &v, nil
}

// ListByCustomer returns every vehicle owned by customerID, most recently
// created first.
func (s *VehicleStore) ListByCustomer(ctx context.Context, customerID int64) ([]Vehicle, error) {
	const query = `
		SELECT id, customer_id, vin, year, make, model, trim, color, mileage,
		       last_service_at, next_service_at, is_primary, status, created_at, updated_at
		FROM vehicles WHERE customer_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("repo: list vehicles: %w", err)
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(
			&v.ID, &v.CustomerID, &v.VIN, &v.Year, &v.Make, &v.Model, &v.Trim, &v.Color, &v.Mileage,
			&v.LastServiceAt, &v.NextServiceAt, &v.IsPrimary, &v.Status, &v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repo: list vehicles scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list vehicles: %w", err)
	}
	return out, nil
}

// Update persists changes to an existing vehicle.
func (s *VehicleStore) Update(ctx context.Context, v *Vehicle) error {
	v.VIN = NormalizeVIN(v.VIN)
	if err := v.Validate(); err != nil {
		return err
	}

	const query = `
		UPDATE vehicles SET
			customer_id = $2, vin = $3, year = $4, make = $5, model = $6, trim = $7,
			color = $8, mileage = $9, last_service_at = $10, next_service_at = $11,
			is_primary = $12, status = $13, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := s.db.QueryRow(ctx, query,
		v.ID, v.CustomerID, v.VIN, v.Year, v.Make, v.Model, v.Trim,
		v.Color, v.Mileage, v.LastServiceAt, v.NextServiceAt,
		v.IsPrimary, v.Status,
	).Scan(&v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("repo: vehicle %d not found", v.ID)
		}
		return fmt.Errorf("repo: update vehicle: %w", err)
	}
	return nil
}
