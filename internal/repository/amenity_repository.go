package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// AmenityRepo reads amenity definitions.  Amenities are managed by another
// service; this one never writes them.
type AmenityRepo struct {
	db *sqlx.DB
}

// NewAmenityRepo returns a new AmenityRepo bound to the given database.
func NewAmenityRepo(db *sqlx.DB) *AmenityRepo { return &AmenityRepo{db: db} }

// GetByID returns the amenity or ErrNotFound.
func (r *AmenityRepo) GetByID(ctx context.Context, id string) (*model.Amenity, error) {
	var a model.Amenity
	err := r.db.GetContext(ctx, &a,
		`SELECT id, community_id, name, category, max_people, slot_duration_min,
		        open_time, close_time, timezone, allow_waitlist
		 FROM amenities WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
