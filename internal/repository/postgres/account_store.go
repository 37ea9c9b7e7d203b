package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
)

// AccountStore resolves user accounts and vehicles from PostgreSQL. It backs
// the collab.UserAccountLookup and collab.VehicleLookup interfaces.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates the account store
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Account loads the slice of a user record the trip engine needs
func (s *AccountStore) Account(ctx context.Context, id uuid.UUID) (*collab.Account, error) {
	var a collab.Account
	var gender string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, gender FROM users WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &gender)
	if err == sql.ErrNoRows {
		return nil, trip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	a.Gender = collab.Gender(gender)
	return &a, nil
}

// Vehicle loads a vehicle owned by the given user
func (s *AccountStore) Vehicle(ctx context.Context, id, ownerID uuid.UUID) (*collab.Vehicle, error) {
	var v collab.Vehicle
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, plate, seats FROM vehicles WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&v.ID, &v.OwnerID, &v.Plate, &v.Seats)
	if err == sql.ErrNoRows {
		return nil, trip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading vehicle: %w", err)
	}
	return &v, nil
}
